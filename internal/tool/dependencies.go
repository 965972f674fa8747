// Package tool checks that the external tool's runtime dependencies are in
// place. The tool fails late and vaguely when they are not, so they are
// probed up front and reported by the health endpoint.
package tool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/executor"
	"github.com/Harsh-BH/brewgate/internal/repository"
)

// Dependency status values.
const (
	StatusOK       = "OK"
	StatusError    = "ERROR"
	StatusNotFound = "NOT_FOUND"
	StatusMissing  = "MISSING"
)

const probeTimeout = 5 * time.Second

// Dependency is the result of probing one dependency.
type Dependency struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// Report lists every probed dependency.
type Report struct {
	Dependencies []Dependency `json:"dependencies"`
	CheckedAt    time.Time    `json:"checked_at"`
}

// OK reports whether every dependency was found and working.
func (r Report) OK() bool {
	for _, d := range r.Dependencies {
		if d.Status != StatusOK {
			return false
		}
	}
	return true
}

// Requirements lists what the tool needs besides itself.
type Requirements struct {
	Executable   string
	Interpreters []string
	InstallDir   string
	// MinifierDir is relative to InstallDir.
	MinifierDir   string
	MinifierFiles []string
}

// Checker probes dependencies.
type Checker struct {
	req     Requirements
	invoker repository.Invoker
	logger  *zap.Logger
}

// NewChecker creates a new dependency checker.
func NewChecker(req Requirements, invoker repository.Invoker, logger *zap.Logger) *Checker {
	return &Checker{req: req, invoker: invoker, logger: logger}
}

// Check runs every probe. Interpreters are started with -v; files are
// only checked for existence.
func (c *Checker) Check(ctx context.Context) Report {
	var deps []Dependency

	exe := Dependency{Name: c.req.Executable, Kind: "runtime", Status: StatusOK}
	if _, err := exec.LookPath(c.req.Executable); err != nil {
		exe.Status = StatusNotFound
	}
	deps = append(deps, exe)

	for _, name := range c.req.Interpreters {
		deps = append(deps, Dependency{Name: name, Kind: "interpreter", Status: c.probe(ctx, name)})
	}

	dir := filepath.Join(c.req.InstallDir, c.req.MinifierDir)
	for _, name := range c.req.MinifierFiles {
		d := Dependency{Name: name, Kind: "minifier", Status: StatusOK}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			d.Status = StatusMissing
		}
		deps = append(deps, d)
	}

	report := Report{Dependencies: deps, CheckedAt: time.Now().UTC()}
	if report.OK() {
		c.logger.Info("Tool dependencies OK", zap.Int("checked", len(deps)))
	} else {
		c.logger.Warn("Tool dependencies incomplete", zap.Any("dependencies", deps))
	}
	return report
}

func (c *Checker) probe(ctx context.Context, name string) string {
	outcome := c.invoker.Run(ctx, executor.Invocation{
		Executable: name,
		Args:       []string{"-v"},
		Timeout:    probeTimeout,
	})
	switch {
	case outcome.StartErr != nil:
		return StatusNotFound
	case outcome.TimedOut, outcome.Cancelled, outcome.ExitCode != 0:
		return StatusError
	}
	return StatusOK
}
