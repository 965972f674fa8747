// Package artifact persists the caller's input into a job workspace.
package artifact

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"

	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/textcodec"
)

// Writer writes job input in the encoding the tool reads.
type Writer struct {
	enc       encoding.Encoding
	maxBytes  int64
	extension string
}

// NewWriter creates a Writer for the named input encoding. defaultExt is
// used when the declared name carries no extension.
func NewWriter(inputEncoding string, maxBytes int64, defaultExt string) (*Writer, error) {
	enc, err := textcodec.Lookup(inputEncoding)
	if err != nil {
		return nil, err
	}
	return &Writer{enc: enc, maxBytes: maxBytes, extension: defaultExt}, nil
}

// Write validates content and writes it into the job's workspace, returning
// the file path. The file name is derived from the job id; only the
// extension of the declared name is kept. There are no retries.
func (w *Writer) Write(job *domain.Job, content []byte) (string, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return "", &domain.ValidationError{Kind: domain.ErrEmptyInput}
	}
	if w.maxBytes > 0 && int64(len(content)) > w.maxBytes {
		return "", domain.Invalidf(domain.ErrInputTooLarge, "%d bytes, limit %d", len(content), w.maxBytes)
	}
	if !utf8.Valid(content) {
		return "", domain.Invalidf(domain.ErrEncoding, "content is not valid UTF-8")
	}

	encoded, err := textcodec.Encode(w.enc, content)
	if err != nil {
		return "", domain.Invalidf(domain.ErrEncoding, "%v", err)
	}

	path := filepath.Join(job.WorkspacePath, InputFileName(job, w.extension))
	if err := writeNew(path, encoded); err != nil {
		return "", fmt.Errorf("write input: %w", err)
	}

	job.SetInput(encoded)
	job.InputPath = path
	return path, nil
}

// InputFileName returns the name the job's input is written under.
func InputFileName(job *domain.Job, defaultExt string) string {
	ext := strings.ToLower(filepath.Ext(job.Name))
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		ext = defaultExt
	}
	return job.ID.String()[:8] + "_input" + ext
}

// writeNew creates path and fails if it already exists.
func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
