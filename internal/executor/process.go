package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/domain"
)

const (
	// DefaultMaxStreamBytes caps each captured stream.
	DefaultMaxStreamBytes = 16 * 1024

	// waitDelay bounds how long Wait keeps draining pipes after the child
	// was killed, in case a grandchild outside the group still holds them.
	waitDelay = 2 * time.Second
)

// Invocation describes one run of the external tool.
type Invocation struct {
	Executable string
	Args       []string
	// Dir is the working directory; the tool resolves its auxiliary
	// resources relative to it.
	Dir     string
	Timeout time.Duration
}

// ProcessInvoker runs the external tool as a child process.
type ProcessInvoker struct {
	maxStreamBytes int
	logger         *zap.Logger
}

// NewProcessInvoker creates a new process invoker.
func NewProcessInvoker(maxStreamBytes int, logger *zap.Logger) *ProcessInvoker {
	if maxStreamBytes <= 0 {
		maxStreamBytes = DefaultMaxStreamBytes
	}
	return &ProcessInvoker{
		maxStreamBytes: maxStreamBytes,
		logger:         logger,
	}
}

// Run spawns exactly one child process and waits for it, up to inv.Timeout.
// A timed-out run reports TimedOut and carries no stream data.
func (p *ProcessInvoker) Run(ctx context.Context, inv Invocation) *domain.ProcessOutcome {
	outcome := &domain.ProcessOutcome{}

	timeoutCtx, cancel := context.WithTimeout(ctx, inv.Timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, inv.Executable, inv.Args...)
	cmd.Dir = inv.Dir

	// Own process group so the tool and whatever it spawns die together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var groupKilled atomic.Bool
	cmd.Cancel = func() error {
		groupKilled.Store(true)
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	stdout := limitedBuffer{limit: p.maxStreamBytes}
	stderr := limitedBuffer{limit: p.maxStreamBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		outcome.ExitCode = -1
		if ctx.Err() != nil {
			// Start refuses to run under a done context.
			outcome.Cancelled = true
			return outcome
		}
		outcome.StartErr = err
		return outcome
	}
	err := cmd.Wait()
	elapsed := time.Since(startTime)
	outcome.Elapsed = elapsed.Milliseconds()

	if !groupKilled.Load() {
		reapGroup(cmd.Process.Pid)
	}

	switch {
	case ctx.Err() != nil:
		outcome.Cancelled = true
		outcome.ExitCode = -1
		return outcome
	case errors.Is(timeoutCtx.Err(), context.DeadlineExceeded):
		outcome.TimedOut = true
		outcome.ExitCode = -1
		p.logger.Warn("Tool timed out",
			zap.String("executable", inv.Executable),
			zap.Duration("timeout", inv.Timeout),
			zap.Duration("elapsed", elapsed),
		)
		return outcome
	}

	outcome.Stdout = stdout.String()
	outcome.Stderr = stderr.String()
	outcome.StdoutTruncated = stdout.truncated
	outcome.StderrTruncated = stderr.truncated

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outcome.ExitCode = 0
	case errors.As(err, &exitErr):
		outcome.ExitCode = exitErr.ExitCode()
	case cmd.ProcessState != nil:
		// exec.ErrWaitDelay: the child exited but its pipes stayed open.
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	default:
		outcome.StartErr = err
		outcome.ExitCode = -1
	}

	p.logger.Debug("Tool run completed",
		zap.String("executable", inv.Executable),
		zap.Duration("elapsed", elapsed),
		zap.Int("exit_code", outcome.ExitCode),
		zap.Bool("stdout_truncated", outcome.StdoutTruncated),
		zap.Bool("stderr_truncated", outcome.StderrTruncated),
	)
	return outcome
}

// reapGroup kills background children the tool left in its process group.
// The group outlives its leader only while such members exist.
func reapGroup(pgid int) {
	if err := syscall.Kill(-pgid, 0); err != nil {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// limitedBuffer is a bytes.Buffer that stops accepting writes after a limit.
// The prefix it has already kept is never modified.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (lb *limitedBuffer) Write(p []byte) (n int, err error) {
	if lb.truncated {
		return len(p), nil // discard silently
	}

	remaining := lb.limit - lb.buf.Len()
	if remaining <= 0 {
		lb.truncated = true
		return len(p), nil
	}

	if len(p) > remaining {
		lb.truncated = true
		lb.buf.Write(p[:remaining])
		return len(p), nil
	}

	return lb.buf.Write(p)
}

func (lb *limitedBuffer) String() string {
	return lb.buf.String()
}
