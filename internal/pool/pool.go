package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/usecase"
)

// WorkerPool manages a fixed-size pool of goroutines that process queued requests.
type WorkerPool struct {
	size    int
	jobs    <-chan *domain.JobMessage
	process *usecase.ProcessRequestUsecase
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new fixed-size worker pool.
func NewWorkerPool(size int, jobs <-chan *domain.JobMessage, process *usecase.ProcessRequestUsecase, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    jobs,
		process: process,
		logger:  logger,
	}
}

// Start launches all worker goroutines. Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current jobs and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case msg, ok := <-p.jobs:
			if !ok {
				p.logger.Debug("Job channel closed", zap.Int("worker_id", id))
				return
			}
			p.handle(ctx, id, msg)
		}
	}
}

func (p *WorkerPool) handle(ctx context.Context, id int, msg *domain.JobMessage) {
	req := msg.Request
	log := p.logger.With(zap.Int("worker_id", id), zap.String("request_id", req.RequestID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker panic recovered", zap.Any("panic", r))
			if nackErr := msg.Nack(false); nackErr != nil {
				log.Error("Failed to NACK message", zap.Error(nackErr))
			}
		}
	}()

	log.Info("Worker processing request", zap.String("name", req.Name))

	result, isDuplicate, err := p.process.Process(ctx, req)
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		// Shutting down mid-run: let another worker pick it up.
		log.Warn("Request interrupted, requeueing", zap.Error(err))
		if nackErr := msg.Nack(true); nackErr != nil {
			log.Error("Failed to NACK message", zap.Error(nackErr))
		}
		return

	case err != nil:
		log.Error("Request processing failed", zap.Error(err))
		// Nack without requeue: failed requests go to the DLQ.
		if nackErr := msg.Nack(false); nackErr != nil {
			log.Error("Failed to NACK message", zap.Error(nackErr))
		}
		return

	case isDuplicate:
		log.Debug("Duplicate request skipped")
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK duplicate message", zap.Error(ackErr))
		}
		return
	}

	if msg.Reply != nil {
		// The worker ctx may be cancelled by now; the reply still goes out.
		if replyErr := msg.Reply(context.WithoutCancel(ctx), result); replyErr != nil {
			log.Error("Failed to publish reply", zap.Error(replyErr))
		}
	}

	if ackErr := msg.Ack(); ackErr != nil {
		log.Error("Failed to ACK message after processing", zap.Error(ackErr))
	}
}
