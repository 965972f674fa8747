// Package resolver finds the external tool's output among the places it has
// been observed to write to.
//
// The tool has no output contract. Candidates are probed in a fixed priority
// order and each is scored; a watermarked candidate always beats one that
// was accepted on size and hash alone, and within a confidence tier the
// earlier candidate wins.
package resolver

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/metrics"
	"github.com/Harsh-BH/brewgate/internal/textcodec"
)

// Rejection reasons, also used as metric labels.
const (
	reasonUnreadable = "unreadable"
	reasonTooLarge   = "too_large"
	reasonTooSmall   = "too_small"
	reasonIdentical  = "identical"
	reasonNotGrown   = "not_grown"
	reasonTruncated  = "truncated"
	reasonNoMarkers  = "no_markers"
)

// Options are the acceptance heuristics, normally taken from the tool profile.
type Options struct {
	OutputName          string
	Watermark           string
	MinOutputBytes      int
	MaxOutputBytes      int64
	InputExtension      string
	OutputEncoding      string
	ScratchFiles        []string
	SyntaxMarkers       []string
	MinMarkers          int
	AcceptDifferentOnly bool
}

// Resolver selects the best candidate output for a job.
type Resolver struct {
	opts    Options
	enc     encoding.Encoding
	scratch map[string]bool
	logger  *zap.Logger
}

// NewResolver creates a new resolver.
func NewResolver(opts Options, logger *zap.Logger) (*Resolver, error) {
	enc, err := textcodec.Lookup(opts.OutputEncoding)
	if err != nil {
		return nil, err
	}
	scratch := make(map[string]bool, len(opts.ScratchFiles))
	for _, name := range opts.ScratchFiles {
		scratch[name] = true
	}
	return &Resolver{opts: opts, enc: enc, scratch: scratch, logger: logger}, nil
}

// Snapshot records which files already exist in the directories a job's
// output can appear in, so that files the tool creates can be told apart.
type Snapshot map[string]bool

// Snapshot lists the files present before the tool runs.
func (r *Resolver) Snapshot(job *domain.Job) Snapshot {
	snap := make(Snapshot)
	for _, dir := range append(scanDirs(job), sharedDirs(job)...) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			snap[filepath.Join(dir, e.Name())] = true
		}
	}
	return snap
}

// probe is one place output may be found.
type probe struct {
	path   string
	source domain.CandidateSource
	inline []byte // set for stream candidates
	// truncated marks a stream capture that hit the size cap.
	truncated bool
}

// Resolve returns the selected candidate, or nil if none validated.
func (r *Resolver) Resolve(job *domain.Job, outcome *domain.ProcessOutcome, before Snapshot) *domain.CandidateOutput {
	var best *domain.CandidateOutput

	for _, p := range r.candidates(job, outcome, before) {
		c, reason := r.evaluate(job, p)
		if c == nil {
			continue
		}
		if reason != "" {
			metrics.CandidatesRejected.WithLabelValues(string(p.source), reason).Inc()
			r.logger.Debug("Candidate rejected",
				zap.String("job_id", job.ID.String()),
				zap.String("path", p.path),
				zap.String("source", string(p.source)),
				zap.String("reason", reason),
				zap.Int("size", c.Size),
			)
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}

	if best != nil {
		r.logger.Info("Output resolved",
			zap.String("job_id", job.ID.String()),
			zap.String("path", best.Path),
			zap.String("source", string(best.Source)),
			zap.String("confidence", best.Confidence.String()),
			zap.Int("input_size", job.InputSize),
			zap.Int("output_size", best.Size),
		)
	}
	return best
}

// candidates lists probes in priority order, without duplicate paths.
func (r *Resolver) candidates(job *domain.Job, outcome *domain.ProcessOutcome, before Snapshot) []probe {
	var probes []probe
	seen := make(map[string]bool)
	add := func(path string, source domain.CandidateSource) {
		path = filepath.Clean(path)
		if seen[path] {
			return
		}
		seen[path] = true
		probes = append(probes, probe{path: path, source: source})
	}

	// 1. Well-known name inside the job's own workspace.
	add(filepath.Join(job.WorkspacePath, r.opts.OutputName), domain.SourceWorkspaceOutput)
	workDirSource := domain.SourceWorkspaceOutput
	if job.SharedInstall {
		workDirSource = domain.SourceInstallOutput
	}
	add(filepath.Join(job.WorkDir, r.opts.OutputName), workDirSource)

	// 2. Well-known name inside the tool's installation directory.
	add(filepath.Join(job.InstallDir, r.opts.OutputName), domain.SourceInstallOutput)

	// 3. Files created during the run.
	for _, path := range r.newFiles(job, before) {
		add(path, domain.SourceNewFile)
	}

	// 4. Standard output reinterpreted as content.
	if outcome != nil && outcome.Stdout != "" {
		probes = append(probes, probe{
			source:    domain.SourceStdout,
			inline:    []byte(outcome.Stdout),
			truncated: outcome.StdoutTruncated,
		})
	}
	return probes
}

func (r *Resolver) newFiles(job *domain.Job, before Snapshot) []string {
	ext := strings.ToLower(filepath.Ext(job.InputPath))
	if ext == "" {
		ext = r.opts.InputExtension
	}

	var found []string
	for _, dir := range scanDirs(job) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			switch {
			case !e.Type().IsRegular(),
				before[path],
				path == job.InputPath,
				r.scratch[e.Name()],
				strings.ToLower(filepath.Ext(e.Name())) != ext:
				continue
			}
			found = append(found, path)
		}
	}
	sort.Strings(found)
	return found
}

// evaluate loads a probe. It returns nil for a candidate that does not
// exist, and a non-empty reason for one that exists but failed validation.
func (r *Resolver) evaluate(job *domain.Job, p probe) (*domain.CandidateOutput, string) {
	c := &domain.CandidateOutput{Path: p.path, Source: p.source}

	if p.inline != nil {
		c.Exists = true
		c.Content = p.inline
	} else {
		info, err := os.Stat(p.path)
		if err != nil || !info.Mode().IsRegular() {
			return nil, ""
		}
		c.Exists = true
		c.Size = int(info.Size())
		if r.opts.MaxOutputBytes > 0 && info.Size() > r.opts.MaxOutputBytes {
			return c, reasonTooLarge
		}
		content, err := os.ReadFile(p.path)
		if err != nil {
			return c, reasonUnreadable
		}
		c.Content = content
	}
	c.Size = len(c.Content)
	c.Hash = domain.DigestOf(c.Content)

	text, err := textcodec.Decode(r.enc, c.Content)
	if err != nil {
		return c, reasonUnreadable
	}

	if p.source == domain.SourceStdout {
		if reason := r.checkStream(text, p.truncated); reason != "" {
			return c, reason
		}
	}

	if c.Size <= r.opts.MinOutputBytes {
		return c, reasonTooSmall
	}
	if c.Hash == job.InputHash {
		return c, reasonIdentical
	}

	switch {
	case r.opts.Watermark != "" && strings.Contains(text, r.opts.Watermark):
		c.Confidence = domain.ConfidenceWatermarked
	case c.Size > job.InputSize:
		c.Confidence = domain.ConfidenceGrownAndDifferent
	case r.opts.AcceptDifferentOnly:
		c.Confidence = domain.ConfidenceDifferentOnly
	default:
		return c, reasonNotGrown
	}
	return c, ""
}

// checkStream applies the extra requirements for stdout candidates: the
// capture must be complete and must look like Lua.
func (r *Resolver) checkStream(text string, truncated bool) string {
	if truncated {
		return reasonTruncated
	}
	hits := 0
	for _, m := range r.opts.SyntaxMarkers {
		if strings.Contains(text, m) {
			hits++
		}
	}
	if hits < r.opts.MinMarkers || hits == 0 {
		return reasonNoMarkers
	}
	return ""
}

// CreatedShared lists every regular file that appeared in the shared
// installation directories since before was taken, whatever its name.
func (r *Resolver) CreatedShared(job *domain.Job, before Snapshot) []string {
	var created []string
	for _, dir := range sharedDirs(job) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if e.Type().IsRegular() && !before[path] {
				created = append(created, path)
			}
		}
	}
	sort.Strings(created)
	return created
}

// sharedDirs are the directories a job shares with other jobs.
func sharedDirs(job *domain.Job) []string {
	if !job.SharedInstall {
		return nil
	}
	var dirs []string
	for _, dir := range []string{job.WorkDir, job.InstallDir} {
		if dir != "" && (len(dirs) == 0 || dirs[0] != dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func scanDirs(job *domain.Job) []string {
	if job.WorkDir == "" || job.WorkDir == job.WorkspacePath {
		return []string{job.WorkspacePath}
	}
	return []string{job.WorkspacePath, job.WorkDir}
}
