// Package textcodec resolves the byte encodings the external tool reads and
// writes.
package textcodec

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/Harsh-BH/brewgate/internal/domain"
)

// Lookup returns the encoding registered under an IANA name or alias
// ("utf-8", "iso-8859-1", "latin1", ...).
func Lookup(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEncoding, name)
	}
	if enc == nil {
		// Known to IANA but not implemented by x/text.
		return nil, fmt.Errorf("%w: %q is not supported", domain.ErrUnknownEncoding, name)
	}
	return enc, nil
}

// Encode converts UTF-8 text into enc. Characters enc cannot represent are
// an error, never silently replaced.
func Encode(enc encoding.Encoding, text []byte) ([]byte, error) {
	out, err := enc.NewEncoder().Bytes(text)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Decode converts bytes in enc into UTF-8 text.
func Decode(enc encoding.Encoding, raw []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
