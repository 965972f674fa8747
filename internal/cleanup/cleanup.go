// Package cleanup removes everything a job left behind.
package cleanup

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/metrics"
)

// WorkspaceReleaser removes a job's workspace.
type WorkspaceReleaser interface {
	Release(job *domain.Job) error
}

// Manager performs best-effort cleanup. It logs failures and never returns
// them, so a cleanup problem can never mask the job's real result.
type Manager struct {
	workspaces WorkspaceReleaser
	// scratch are file names the tool drops into its own directories
	// regardless of the working directory it was given.
	scratch []string
	logger  *zap.Logger
}

// NewManager creates a new cleanup manager.
func NewManager(workspaces WorkspaceReleaser, scratch []string, logger *zap.Logger) *Manager {
	return &Manager{
		workspaces: workspaces,
		scratch:    scratch,
		logger:     logger,
	}
}

// Cleanup removes the job's workspace and, for jobs that ran against the
// shared installation, the scratch files the tool leaves there. Only the
// first call per job does anything.
func (m *Manager) Cleanup(job *domain.Job) {
	if job == nil {
		return
	}
	job.CleanupOnce(func() {
		if job.SharedInstall && toolStarted(job.State()) {
			m.PurgeShared(job)
		}
		if err := m.workspaces.Release(job); err != nil {
			m.warn(job, "Failed to release workspace", err)
		}
		if err := job.Transition(domain.StateCleanedUp); err != nil {
			m.logger.Debug("Cleanup transition skipped", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
		m.logger.Debug("Job cleaned up", zap.String("job_id", job.ID.String()))
	})
}

// PurgeShared removes the tool's scratch files, and any file recorded as
// created by the job, from the shared installation. Callers must hold the
// shared-installation lock.
func (m *Manager) PurgeShared(job *domain.Job) {
	dirs := []string{job.WorkDir}
	if job.InstallDir != job.WorkDir {
		dirs = append(dirs, job.InstallDir)
	}

	names := m.scratch
	if job.InputPath != "" {
		names = append(append([]string(nil), names...), filepath.Base(job.InputPath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, name := range names {
			m.removeIfPresent(job, filepath.Join(dir, name))
		}
	}
	for _, path := range job.SharedArtifacts {
		m.removeIfPresent(job, path)
	}
}

// toolStarted reports whether the tool may have written into its directories.
func toolStarted(s domain.JobState) bool {
	return s != domain.StateCreated && s != domain.StateSubmitted && s != domain.StateCleanedUp
}

func (m *Manager) removeIfPresent(job *domain.Job, path string) {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	m.warn(job, "Failed to remove tool artifact", err, zap.String("path", path))
}

func (m *Manager) warn(job *domain.Job, msg string, err error, fields ...zap.Field) {
	metrics.CleanupFailures.Inc()
	fields = append(fields, zap.String("job_id", job.ID.String()), zap.Error(err))
	m.logger.Warn(msg, fields...)
}
