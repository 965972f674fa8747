package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of an obfuscation job.
type JobState string

const (
	StateCreated      JobState = "CREATED"
	StateSubmitted    JobState = "SUBMITTED"
	StateRunning      JobState = "RUNNING"
	StateCompleted    JobState = "COMPLETED"
	StateTimedOut     JobState = "TIMED_OUT"
	StateProcessError JobState = "PROCESS_ERROR"
	StateResolved     JobState = "RESOLVED"
	StateCleanedUp    JobState = "CLEANED_UP"
)

// IsTerminal returns true if the state is final.
func (s JobState) IsTerminal() bool {
	return s == StateCleanedUp
}

func isAllowedTransition(from, to JobState) bool {
	if to == StateCleanedUp {
		return !from.IsTerminal()
	}
	switch from {
	case StateCreated:
		return to == StateSubmitted
	case StateSubmitted:
		return to == StateRunning
	case StateRunning:
		return to == StateCompleted || to == StateTimedOut || to == StateProcessError
	case StateCompleted, StateTimedOut, StateProcessError:
		return to == StateResolved
	}
	return false
}

// Digest is a SHA-256 content hash.
type Digest [sha256.Size]byte

// DigestOf hashes b.
func DigestOf(b []byte) Digest {
	return sha256.Sum256(b)
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Job is one end-to-end obfuscation request. It is owned by the pipeline
// for its whole lifetime and its workspace is removed when the pipeline ends.
type Job struct {
	ID           uuid.UUID
	Name         string
	InputContent []byte
	InputSize    int
	InputHash    Digest
	CreatedAt    time.Time

	// WorkspacePath is the job's private directory.
	WorkspacePath string
	// WorkDir is the working directory the tool runs in.
	WorkDir string
	// InstallDir is the tool installation the job runs against: a private
	// copy inside WorkspacePath, or the shared one when SharedInstall is set.
	InstallDir    string
	SharedInstall bool
	InputPath     string
	// SharedArtifacts are files the tool created in the shared
	// installation; they are removed during cleanup.
	SharedArtifacts []string

	mu       sync.Mutex
	state    JobState
	observer func(JobState)

	cleanupOnce sync.Once
}

// NewJob creates a job in the CREATED state.
func NewJob(id uuid.UUID, name string) *Job {
	return &Job{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		state:     StateCreated,
	}
}

// SetInput records the caller's content together with its size and digest.
func (j *Job) SetInput(content []byte) {
	j.InputContent = content
	j.InputSize = len(content)
	j.InputHash = DigestOf(content)
}

// State returns the current lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Observe registers fn to be called after every successful transition.
func (j *Job) Observe(fn func(JobState)) {
	j.mu.Lock()
	j.observer = fn
	j.mu.Unlock()
}

// Transition moves the job to state to, rejecting edges the lifecycle
// does not allow.
func (j *Job) Transition(to JobState) error {
	j.mu.Lock()
	from := j.state
	if !isAllowedTransition(from, to) {
		j.mu.Unlock()
		return fmt.Errorf("job %s: disallowed transition %s -> %s", j.ID, from, to)
	}
	j.state = to
	fn := j.observer
	j.mu.Unlock()

	if fn != nil {
		fn(to)
	}
	return nil
}

// CleanupOnce runs fn the first time it is called for this job.
func (j *Job) CleanupOnce(fn func()) {
	j.cleanupOnce.Do(fn)
}

// Isolation selects how concurrent jobs are kept from colliding inside the
// tool's installation directory.
type Isolation string

const (
	// IsolationCopy gives every job a private copy of the installation.
	IsolationCopy Isolation = "copy"
	// IsolationLock runs jobs against the shared installation one at a time.
	IsolationLock Isolation = "lock"
)

// IsValid checks if the isolation mode is supported.
func (i Isolation) IsValid() bool {
	return i == IsolationCopy || i == IsolationLock
}
