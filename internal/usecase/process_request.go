package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/metrics"
	"github.com/Harsh-BH/brewgate/internal/repository"
)

// Invoker is the part of Pipeline the queue transport depends on.
type Invoker interface {
	Invoke(ctx context.Context, content []byte, name string) (*domain.InvocationResult, error)
}

// ProcessRequestUsecase runs queued requests at most once per request id.
type ProcessRequestUsecase struct {
	pipeline   Invoker
	idempotent repository.IdempotencyStore
	logger     *zap.Logger
}

// NewProcessRequestUsecase creates a new ProcessRequestUsecase.
func NewProcessRequestUsecase(pipeline Invoker, idempotent repository.IdempotencyStore, logger *zap.Logger) *ProcessRequestUsecase {
	return &ProcessRequestUsecase{
		pipeline:   pipeline,
		idempotent: idempotent,
		logger:     logger,
	}
}

// Process handles a single request: idempotency check -> pipeline -> lock release.
// Returns (result, isDuplicate, error). A tool failure is a result, not an error.
func (uc *ProcessRequestUsecase) Process(ctx context.Context, req *domain.ObfuscationRequest) (*domain.InvocationResult, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	acquired, err := uc.idempotent.AcquireLock(ctx, req.RequestID)
	if err != nil {
		uc.logger.Error("Failed to acquire idempotency lock", zap.Error(err), zap.String("request_id", req.RequestID))
		return nil, false, err
	}
	if !acquired {
		metrics.DuplicateDeliveries.Inc()
		uc.logger.Info("Duplicate message detected, skipping", zap.String("request_id", req.RequestID))
		return nil, true, nil
	}

	result, err := uc.pipeline.Invoke(ctx, req.Content, req.Name)
	if err != nil {
		uc.logger.Warn("Invocation interrupted", zap.String("request_id", req.RequestID), zap.Error(err))
		// ctx is already done here.
		if abandonErr := uc.idempotent.AbandonLock(context.WithoutCancel(ctx), req.RequestID); abandonErr != nil {
			uc.logger.Error("Failed to abandon idempotency lock", zap.Error(abandonErr), zap.String("request_id", req.RequestID))
		}
		return nil, false, err
	}

	if releaseErr := uc.idempotent.ReleaseLock(context.WithoutCancel(ctx), req.RequestID); releaseErr != nil {
		// The key keeps its long TTL; redeliveries are dropped until it expires.
		uc.logger.Error("Failed to release idempotency lock", zap.Error(releaseErr), zap.String("request_id", req.RequestID))
	}

	uc.logger.Info("Request processed",
		zap.String("request_id", req.RequestID),
		zap.String("job_id", result.JobID),
		zap.Bool("ok", result.OK()),
		zap.String("category", string(result.Category)),
	)
	return result, false, nil
}
