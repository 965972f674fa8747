// Package workspace allocates the isolated per-job directories the external
// tool runs in.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/domain"
)

const (
	dirPrefix   = "job-"
	installDir  = "install"
	workDirPerm = 0o700
)

// InstallSpec describes the tool installation jobs run against.
type InstallSpec struct {
	// Dir is the shared installation root.
	Dir string
	// WorkSubdir is the directory, relative to Dir, the tool must run from
	// so that its relative resource paths resolve.
	WorkSubdir string
	Isolation  domain.Isolation
}

// Manager creates and removes job workspaces under a root directory.
type Manager struct {
	root    string
	install InstallSpec
	logger  *zap.Logger
}

// NewManager creates a new workspace manager.
func NewManager(root string, install InstallSpec, logger *zap.Logger) *Manager {
	return &Manager{
		root:    root,
		install: install,
		logger:  logger,
	}
}

// Allocate creates a fresh workspace for a job. The directory name comes
// from a random UUID, never from the caller's file name.
func (m *Manager) Allocate(name string) (*domain.Job, error) {
	if err := os.MkdirAll(m.root, workDirPerm); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	id := uuid.New()
	job := domain.NewJob(id, name)
	job.WorkspacePath = filepath.Join(m.root, dirPrefix+id.String())

	// Mkdir, not MkdirAll: an existing directory means a collision.
	if err := os.Mkdir(job.WorkspacePath, workDirPerm); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	switch m.install.Isolation {
	case domain.IsolationCopy:
		private := filepath.Join(job.WorkspacePath, installDir)
		if err := copyTree(m.install.Dir, private); err != nil {
			_ = os.RemoveAll(job.WorkspacePath)
			return nil, fmt.Errorf("copy tool installation: %w", err)
		}
		job.InstallDir = private
		job.WorkDir = filepath.Join(private, m.install.WorkSubdir)
	default:
		job.InstallDir = m.install.Dir
		job.WorkDir = filepath.Join(m.install.Dir, m.install.WorkSubdir)
		job.SharedInstall = true
	}

	m.logger.Debug("Workspace allocated",
		zap.String("job_id", id.String()),
		zap.String("workspace", job.WorkspacePath),
		zap.Bool("shared_install", job.SharedInstall),
	)
	return job, nil
}

// Release removes the job's workspace and everything inside it. A missing
// directory is not an error, so Release may be called more than once.
func (m *Manager) Release(job *domain.Job) error {
	if job == nil || job.WorkspacePath == "" {
		return nil
	}
	if err := os.RemoveAll(job.WorkspacePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// copyTree copies regular files, directories and symlinks from src to dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, workDirPerm)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		}
		// Sockets, devices and pipes have no place in a tool install.
		return nil
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
