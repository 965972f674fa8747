package pool_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/pool"
	"github.com/Harsh-BH/brewgate/internal/repository/mock"
	"github.com/Harsh-BH/brewgate/internal/usecase"
)

type counters struct {
	acked    atomic.Int32
	nacked   atomic.Int32
	requeued atomic.Int32

	mu      sync.Mutex
	replies []*domain.InvocationResult
}

func (c *counters) replyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies)
}

func newTestPool(t *testing.T, poolSize int, pipe *mock.Pipeline, idem *mock.IdempotencyStore) (chan *domain.JobMessage, *pool.WorkerPool, context.CancelFunc) {
	t.Helper()

	logger := zap.NewNop()
	if idem == nil {
		idem = &mock.IdempotencyStore{}
	}
	uc := usecase.NewProcessRequestUsecase(pipe, idem, logger)

	ch := make(chan *domain.JobMessage, 16)
	ctx, cancel := context.WithCancel(context.Background())
	wp := pool.NewWorkerPool(poolSize, ch, uc, logger)
	wp.Start(ctx)

	return ch, wp, cancel
}

var nextID atomic.Int32

func sendRequest(ch chan<- *domain.JobMessage, c *counters, withReply bool) {
	msg := &domain.JobMessage{
		Request: &domain.ObfuscationRequest{
			RequestID: fmt.Sprintf("req-%d", nextID.Add(1)),
			Name:      "script.lua",
			Content:   []byte("print('test')\n"),
		},
		Ack: func() error {
			c.acked.Add(1)
			return nil
		},
		Nack: func(requeue bool) error {
			c.nacked.Add(1)
			if requeue {
				c.requeued.Add(1)
			}
			return nil
		},
	}
	if withReply {
		msg.Reply = func(ctx context.Context, result *domain.InvocationResult) error {
			c.mu.Lock()
			c.replies = append(c.replies, result)
			c.mu.Unlock()
			return nil
		}
	}
	ch <- msg
}

// Test: pool processes requests, replies and ACKs them.
func TestPool_ProcessReplyAndAck(t *testing.T) {
	ch, wp, cancel := newTestPool(t, 2, &mock.Pipeline{}, nil)

	var c counters
	for i := 0; i < 5; i++ {
		sendRequest(ch, &c, true)
	}

	time.Sleep(200 * time.Millisecond)

	cancel()
	wp.Stop()

	if c.acked.Load() != 5 {
		t.Errorf("expected 5 ACKs, got %d", c.acked.Load())
	}
	if c.nacked.Load() != 0 {
		t.Errorf("expected 0 NACKs, got %d", c.nacked.Load())
	}
	if c.replyCount() != 5 {
		t.Errorf("expected 5 replies, got %d", c.replyCount())
	}
}

// Test: a tool failure is replied to and ACKed, not dead-lettered.
func TestPool_ToolFailureIsReplied(t *testing.T) {
	pipe := &mock.Pipeline{
		InvokeFn: func(ctx context.Context, content []byte, name string) (*domain.InvocationResult, error) {
			return domain.Failed("job", domain.CategoryOutputNotFound, "tool exited 0 but produced no output"), nil
		},
	}
	ch, wp, cancel := newTestPool(t, 1, pipe, nil)

	var c counters
	sendRequest(ch, &c, true)

	time.Sleep(200 * time.Millisecond)
	cancel()
	wp.Stop()

	if c.acked.Load() != 1 || c.nacked.Load() != 0 {
		t.Errorf("expected 1 ACK and 0 NACKs, got %d/%d", c.acked.Load(), c.nacked.Load())
	}
	if c.replyCount() != 1 || c.replies[0].Category != domain.CategoryOutputNotFound {
		t.Errorf("expected OUTPUT_NOT_FOUND reply, got %+v", c.replies)
	}
}

// Test: pool NACKs requests whose processing fails, without requeue.
func TestPool_NacksOnFailure(t *testing.T) {
	idem := &mock.IdempotencyStore{
		AcquireLockFn: func(ctx context.Context, requestID string) (bool, error) {
			return false, errors.New("redis: connection refused")
		},
	}
	ch, wp, cancel := newTestPool(t, 1, &mock.Pipeline{}, idem)

	var c counters
	sendRequest(ch, &c, false)

	time.Sleep(200 * time.Millisecond)
	cancel()
	wp.Stop()

	if c.nacked.Load() != 1 {
		t.Errorf("expected 1 NACK, got %d", c.nacked.Load())
	}
	if c.requeued.Load() != 0 {
		t.Errorf("failed requests must not be requeued, got %d", c.requeued.Load())
	}
	if c.acked.Load() != 0 {
		t.Errorf("expected 0 ACKs, got %d", c.acked.Load())
	}
}

// Test: an interrupted invocation is requeued.
func TestPool_InterruptedIsRequeued(t *testing.T) {
	pipe := &mock.Pipeline{
		InvokeFn: func(ctx context.Context, content []byte, name string) (*domain.InvocationResult, error) {
			return nil, context.Canceled
		},
	}
	ch, wp, cancel := newTestPool(t, 1, pipe, nil)

	var c counters
	sendRequest(ch, &c, true)

	time.Sleep(200 * time.Millisecond)
	cancel()
	wp.Stop()

	if c.requeued.Load() != 1 {
		t.Errorf("expected 1 requeue, got %d", c.requeued.Load())
	}
	if c.replyCount() != 0 {
		t.Error("interrupted requests must not be replied to")
	}
}

// Test: pool handles duplicate requests (ACKs them, not NACKs).
func TestPool_DuplicateIsAcked(t *testing.T) {
	idem := &mock.IdempotencyStore{
		AcquireLockFn: func(ctx context.Context, requestID string) (bool, error) {
			return false, nil // duplicate
		},
	}
	pipe := &mock.Pipeline{}
	ch, wp, cancel := newTestPool(t, 1, pipe, idem)

	var c counters
	sendRequest(ch, &c, true)

	time.Sleep(200 * time.Millisecond)
	cancel()
	wp.Stop()

	if c.acked.Load() != 1 {
		t.Errorf("expected 1 ACK for duplicate, got %d", c.acked.Load())
	}
	if c.nacked.Load() != 0 {
		t.Errorf("expected 0 NACKs, got %d", c.nacked.Load())
	}
	if pipe.Calls() != 0 || c.replyCount() != 0 {
		t.Error("duplicates must not run or reply")
	}
}

// Test: pool shuts down gracefully (context cancellation).
func TestPool_GracefulShutdown(t *testing.T) {
	ch, wp, cancel := newTestPool(t, 4, &mock.Pipeline{}, nil)

	var c counters
	sendRequest(ch, &c, false)
	sendRequest(ch, &c, false)

	time.Sleep(50 * time.Millisecond)
	cancel()
	wp.Stop()
	close(ch)

	if total := c.acked.Load() + c.nacked.Load(); total < 1 {
		t.Errorf("expected at least 1 processed request, got %d", total)
	}
}
