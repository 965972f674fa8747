package repository

import (
	"context"

	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/executor"
)

// Invoker runs the external tool once.
type Invoker interface {
	// Run never returns an error: start failures, timeouts and cancellation
	// are all reported on the outcome.
	Run(ctx context.Context, inv executor.Invocation) *domain.ProcessOutcome
}

// IdempotencyStore defines the interface for distributed deduplication locks.
type IdempotencyStore interface {
	// AcquireLock attempts to acquire an exclusive processing lock for a request.
	// Returns true if the lock was acquired (first time), false if already locked (duplicate).
	AcquireLock(ctx context.Context, requestID string) (bool, error)

	// ReleaseLock keeps the lock key around for a while so that late
	// redeliveries are still recognised, then lets it expire.
	ReleaseLock(ctx context.Context, requestID string) error

	// AbandonLock drops the lock immediately so a redelivery is processed.
	AbandonLock(ctx context.Context, requestID string) error
}
