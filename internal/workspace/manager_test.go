package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/domain"
)

func newInstall(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "publish"), 0o755); err != nil {
		t.Fatalf("mkdir publish: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "Lua", "Minifier"), 0o755); err != nil {
		t.Fatalf("mkdir minifier: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "publish", "IronBrew2 CLI.dll"), []byte("MZ"), 0o644); err != nil {
		t.Fatalf("write dll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Lua", "Minifier", "llex.lua"), []byte("-- lexer"), 0o644); err != nil {
		t.Fatalf("write llex: %v", err)
	}
	return dir
}

func TestAllocate_CopyIsolation(t *testing.T) {
	install := newInstall(t)
	m := NewManager(t.TempDir(), InstallSpec{Dir: install, WorkSubdir: "publish", Isolation: domain.IsolationCopy}, zap.NewNop())

	job, err := m.Allocate("script.lua")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Release(job)

	if job.SharedInstall {
		t.Error("expected private install")
	}
	if job.State() != domain.StateCreated {
		t.Errorf("expected CREATED, got %s", job.State())
	}
	if filepath.Dir(job.InstallDir) != job.WorkspacePath {
		t.Errorf("install dir %s should live inside workspace %s", job.InstallDir, job.WorkspacePath)
	}
	if job.WorkDir != filepath.Join(job.InstallDir, "publish") {
		t.Errorf("unexpected work dir %s", job.WorkDir)
	}
	if _, err := os.Stat(filepath.Join(job.WorkDir, "IronBrew2 CLI.dll")); err != nil {
		t.Errorf("tool assembly not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(job.InstallDir, "Lua", "Minifier", "llex.lua")); err != nil {
		t.Errorf("minifier not copied: %v", err)
	}
}

func TestAllocate_LockIsolation(t *testing.T) {
	install := newInstall(t)
	m := NewManager(t.TempDir(), InstallSpec{Dir: install, WorkSubdir: "publish", Isolation: domain.IsolationLock}, zap.NewNop())

	job, err := m.Allocate("script.lua")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Release(job)

	if !job.SharedInstall {
		t.Error("expected shared install")
	}
	if job.InstallDir != install {
		t.Errorf("expected shared install dir %s, got %s", install, job.InstallDir)
	}
	if job.WorkDir != filepath.Join(install, "publish") {
		t.Errorf("unexpected work dir %s", job.WorkDir)
	}
}

func TestAllocate_UniqueUnderConcurrency(t *testing.T) {
	install := newInstall(t)
	m := NewManager(t.TempDir(), InstallSpec{Dir: install, WorkSubdir: "publish", Isolation: domain.IsolationLock}, zap.NewNop())

	const n = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := m.Allocate("same-name.lua")
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			mu.Lock()
			paths[job.WorkspacePath] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(paths) != n {
		t.Errorf("expected %d distinct workspaces, got %d", n, len(paths))
	}
}

func TestRelease_Idempotent(t *testing.T) {
	install := newInstall(t)
	m := NewManager(t.TempDir(), InstallSpec{Dir: install, WorkSubdir: "publish", Isolation: domain.IsolationCopy}, zap.NewNop())

	job, err := m.Allocate("script.lua")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Release(job); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if _, err := os.Stat(job.WorkspacePath); !os.IsNotExist(err) {
		t.Errorf("workspace still present after release: %v", err)
	}
	if err := m.Release(job); err != nil {
		t.Errorf("second release should be a no-op, got %v", err)
	}
	if err := m.Release(nil); err != nil {
		t.Errorf("nil release should be a no-op, got %v", err)
	}
}

func TestAllocate_MissingInstall(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, InstallSpec{Dir: "/nonexistent/ironbrew", WorkSubdir: "publish", Isolation: domain.IsolationCopy}, zap.NewNop())

	if _, err := m.Allocate("script.lua"); err == nil {
		t.Fatal("expected error copying a missing installation")
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("failed allocation leaked %d workspace(s)", len(entries))
	}
}
