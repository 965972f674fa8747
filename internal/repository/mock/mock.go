package mock

import (
	"context"
	"sync"

	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/executor"
	"github.com/Harsh-BH/brewgate/internal/repository"
)

// ---- IdempotencyStore mock ----

var _ repository.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore is a test double for repository.IdempotencyStore.
type IdempotencyStore struct {
	mu sync.Mutex

	AcquireLockFn func(ctx context.Context, requestID string) (bool, error)
	ReleaseLockFn func(ctx context.Context, requestID string) error
	AbandonLockFn func(ctx context.Context, requestID string) error

	AcquireCalls []string
	ReleaseCalls []string
	AbandonCalls []string
}

func (m *IdempotencyStore) AcquireLock(ctx context.Context, requestID string) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, requestID)
	m.mu.Unlock()
	if m.AcquireLockFn != nil {
		return m.AcquireLockFn(ctx, requestID)
	}
	return true, nil // default: lock acquired
}

func (m *IdempotencyStore) ReleaseLock(ctx context.Context, requestID string) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, requestID)
	m.mu.Unlock()
	if m.ReleaseLockFn != nil {
		return m.ReleaseLockFn(ctx, requestID)
	}
	return nil
}

func (m *IdempotencyStore) AbandonLock(ctx context.Context, requestID string) error {
	m.mu.Lock()
	m.AbandonCalls = append(m.AbandonCalls, requestID)
	m.mu.Unlock()
	if m.AbandonLockFn != nil {
		return m.AbandonLockFn(ctx, requestID)
	}
	return nil
}

// Counts returns the number of acquire, release and abandon calls.
func (m *IdempotencyStore) Counts() (acquired, released, abandoned int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AcquireCalls), len(m.ReleaseCalls), len(m.AbandonCalls)
}

// ---- Invoker mock ----

var _ repository.Invoker = (*Invoker)(nil)

// Invoker is a test double for repository.Invoker.
type Invoker struct {
	mu sync.Mutex

	RunFn func(ctx context.Context, inv executor.Invocation) *domain.ProcessOutcome

	RunCalls []executor.Invocation
}

func (m *Invoker) Run(ctx context.Context, inv executor.Invocation) *domain.ProcessOutcome {
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, inv)
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(ctx, inv)
	}
	return &domain.ProcessOutcome{}
}

// ---- Pipeline mock ----

// Pipeline is a test double for the usecase pipeline.
type Pipeline struct {
	mu sync.Mutex

	InvokeFn func(ctx context.Context, content []byte, name string) (*domain.InvocationResult, error)

	// States are reported to the observer, in order, before InvokeFn runs.
	States []domain.JobState

	InvokeCalls []string
	Contents    [][]byte
}

func (m *Pipeline) Invoke(ctx context.Context, content []byte, name string) (*domain.InvocationResult, error) {
	return m.InvokeObserved(ctx, content, name, nil)
}

func (m *Pipeline) InvokeObserved(ctx context.Context, content []byte, name string, observe func(domain.JobState)) (*domain.InvocationResult, error) {
	m.mu.Lock()
	m.InvokeCalls = append(m.InvokeCalls, name)
	m.Contents = append(m.Contents, content)
	m.mu.Unlock()
	if observe != nil {
		for _, s := range m.States {
			observe(s)
		}
	}
	if m.InvokeFn != nil {
		return m.InvokeFn(ctx, content, name)
	}
	return &domain.InvocationResult{JobID: "job", Content: []byte("-- obfuscated"), Confidence: domain.ConfidenceWatermarked.String()}, nil
}

// Calls returns the number of Invoke calls so far.
func (m *Pipeline) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InvokeCalls)
}
