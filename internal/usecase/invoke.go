package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Harsh-BH/brewgate/internal/artifact"
	"github.com/Harsh-BH/brewgate/internal/classifier"
	"github.com/Harsh-BH/brewgate/internal/cleanup"
	"github.com/Harsh-BH/brewgate/internal/config"
	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/executor"
	"github.com/Harsh-BH/brewgate/internal/metrics"
	"github.com/Harsh-BH/brewgate/internal/repository"
	"github.com/Harsh-BH/brewgate/internal/resolver"
	"github.com/Harsh-BH/brewgate/internal/workspace"
)

// Pipeline is the single entry point for running the external tool:
// allocate a workspace, write the input, invoke the tool, resolve its
// output, classify failures and clean up.
type Pipeline struct {
	tool       config.ToolConfig
	workspaces *workspace.Manager
	writer     *artifact.Writer
	invoker    repository.Invoker
	resolver   *resolver.Resolver
	classifier *classifier.Classifier
	cleaner    *cleanup.Manager
	logger     *zap.Logger

	// shared serializes runs against the shared installation in lock mode.
	shared *semaphore.Weighted
}

// NewPipeline creates a new Pipeline.
func NewPipeline(
	tool config.ToolConfig,
	workspaces *workspace.Manager,
	writer *artifact.Writer,
	invoker repository.Invoker,
	res *resolver.Resolver,
	cls *classifier.Classifier,
	cleaner *cleanup.Manager,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		tool:       tool,
		workspaces: workspaces,
		writer:     writer,
		invoker:    invoker,
		resolver:   res,
		classifier: cls,
		cleaner:    cleaner,
		logger:     logger,
		shared:     semaphore.NewWeighted(1),
	}
}

// BuildPipeline wires a Pipeline from validated configuration.
func BuildPipeline(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	prof := cfg.Tool.Profile

	ws := workspace.NewManager(cfg.Workspace.Root, workspace.InstallSpec{
		Dir:        cfg.Tool.InstallDir,
		WorkSubdir: cfg.Tool.WorkSubdir,
		Isolation:  cfg.Tool.Isolation,
	}, logger)

	writer, err := artifact.NewWriter(prof.InputEncoding, cfg.Limits.MaxInputBytes, prof.InputExtension)
	if err != nil {
		return nil, fmt.Errorf("input encoding: %w", err)
	}

	res, err := resolver.NewResolver(resolver.Options{
		OutputName:          prof.OutputName,
		Watermark:           prof.Watermark,
		MinOutputBytes:      prof.MinOutputBytes,
		MaxOutputBytes:      prof.MaxOutputBytes,
		InputExtension:      prof.InputExtension,
		OutputEncoding:      prof.OutputEncoding,
		ScratchFiles:        prof.ScratchFiles,
		SyntaxMarkers:       prof.SyntaxMarkers,
		MinMarkers:          prof.MinMarkers,
		AcceptDifferentOnly: prof.AcceptDifferentOnly,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("output encoding: %w", err)
	}

	cls := classifier.NewClassifier(classifier.Patterns{
		Dependency: prof.DependencyPatterns,
		Syntax:     prof.SyntaxPatterns,
	}, cfg.Tool.Timeout)

	return NewPipeline(
		cfg.Tool,
		ws,
		writer,
		executor.NewProcessInvoker(cfg.Limits.MaxStreamBytes, logger),
		res,
		cls,
		cleanup.NewManager(ws, prof.ScratchFiles, logger),
		logger,
	), nil
}

// Invoke runs the tool on content. Every failure is reported through the
// returned result; the error is non-nil only when ctx was cancelled, and
// in that case the job has already been cleaned up.
func (p *Pipeline) Invoke(ctx context.Context, content []byte, name string) (*domain.InvocationResult, error) {
	return p.InvokeObserved(ctx, content, name, nil)
}

// InvokeObserved is Invoke with a callback receiving every lifecycle
// transition of the job.
func (p *Pipeline) InvokeObserved(ctx context.Context, content []byte, name string, observe func(domain.JobState)) (result *domain.InvocationResult, err error) {
	start := time.Now()
	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	job, allocErr := p.workspaces.Allocate(name)
	if allocErr != nil {
		p.logger.Error("Failed to allocate workspace", zap.Error(allocErr))
		return p.record(nil, start, domain.Failed("", domain.CategoryUnknown, allocErr.Error()), nil), nil
	}
	if observe != nil {
		job.Observe(observe)
	}

	locked := false
	defer p.release(job, &locked)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Pipeline panic recovered",
				zap.String("job_id", job.ID.String()),
				zap.Any("panic", r),
			)
			result = p.record(job, start, domain.Failed(job.ID.String(), domain.CategoryUnknown, fmt.Sprintf("internal error: %v", r)), nil)
			err = nil
		}
	}()

	if _, werr := p.writer.Write(job, content); werr != nil {
		var verr *domain.ValidationError
		if errors.As(werr, &verr) {
			return p.record(job, start, domain.Failed(job.ID.String(), domain.CategoryValidation, verr.Error()), nil), nil
		}
		p.logger.Error("Failed to write input", zap.String("job_id", job.ID.String()), zap.Error(werr))
		return p.record(job, start, domain.Failed(job.ID.String(), domain.CategoryUnknown, werr.Error()), nil), nil
	}
	mustTransition(job, domain.StateSubmitted)

	if job.SharedInstall {
		if lerr := p.shared.Acquire(ctx, 1); lerr != nil {
			p.logger.Info("Cancelled while waiting for the shared installation", zap.String("job_id", job.ID.String()))
			return nil, lerr
		}
		locked = true
		p.cleaner.PurgeShared(job)
	}

	if cerr := ctx.Err(); cerr != nil {
		p.logger.Info("Cancelled before the tool started", zap.String("job_id", job.ID.String()))
		return nil, cerr
	}

	before := p.resolver.Snapshot(job)

	mustTransition(job, domain.StateRunning)
	outcome := p.invoker.Run(ctx, executor.Invocation{
		Executable: p.tool.Executable,
		Args:       append(p.tool.ExpandArgs(job.InstallDir), job.InputPath),
		Dir:        job.WorkDir,
		Timeout:    p.tool.Timeout,
	})
	if job.SharedInstall {
		// Still under the shared lock: everything new there is this job's.
		job.SharedArtifacts = p.resolver.CreatedShared(job, before)
	}

	if outcome.Cancelled {
		p.logger.Info("Invocation cancelled by caller",
			zap.String("job_id", job.ID.String()),
			zap.Int64("elapsed", outcome.Elapsed),
		)
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, context.Canceled
	}

	var candidate *domain.CandidateOutput
	switch {
	case outcome.TimedOut:
		mustTransition(job, domain.StateTimedOut)
	case outcome.StartErr != nil:
		mustTransition(job, domain.StateProcessError)
	default:
		if outcome.ExitCode != 0 {
			mustTransition(job, domain.StateProcessError)
		} else {
			mustTransition(job, domain.StateCompleted)
		}
		candidate = p.resolver.Resolve(job, outcome, before)
	}
	mustTransition(job, domain.StateResolved)

	if candidate != nil {
		return p.record(job, start, domain.Succeeded(job.ID.String(), candidate), outcome), nil
	}

	diag := p.classifier.Classify(outcome, true)
	return p.record(job, start, domain.Failed(job.ID.String(), diag.Category, diag.Diagnostic), outcome), nil
}

// release cleans the job up. A job that ran against the shared
// installation still holds the shared lock here, so its scratch files are
// purged before another job can start.
func (p *Pipeline) release(job *domain.Job, locked *bool) {
	p.cleaner.Cleanup(job)
	if *locked {
		p.shared.Release(1)
	}
}

// record logs the result and updates metrics.
func (p *Pipeline) record(job *domain.Job, start time.Time, res *domain.InvocationResult, outcome *domain.ProcessOutcome) *domain.InvocationResult {
	elapsed := time.Since(start)

	label := "success"
	if !res.OK() {
		label = string(res.Category)
	}
	metrics.InvocationsTotal.WithLabelValues(label, res.Confidence).Inc()
	metrics.InvocationDuration.WithLabelValues(label).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("job_id", res.JobID),
		zap.Duration("elapsed", elapsed),
	}
	if outcome != nil {
		fields = append(fields, zap.Int("exit_code", outcome.ExitCode))
	}

	if res.OK() {
		ratio := 0.0
		if job != nil && job.InputSize > 0 {
			ratio = float64(len(res.Content)) / float64(job.InputSize)
		}
		fields = append(fields,
			zap.String("confidence", res.Confidence),
			zap.String("source", string(res.Source)),
			zap.Int("output_size", len(res.Content)),
			zap.Float64("size_ratio", ratio),
		)
		p.logger.Info("Invocation succeeded", fields...)
		return res
	}

	fields = append(fields,
		zap.String("category", string(res.Category)),
		zap.String("diagnostic", domain.TruncateDiagnostic(res.Diagnostic, 200)),
	)
	p.logger.Warn("Invocation failed", fields...)
	return res
}

// mustTransition advances the job. A rejected edge is a programming error
// and is turned into an UNKNOWN failure by the recover in InvokeObserved.
func mustTransition(job *domain.Job, to domain.JobState) {
	if err := job.Transition(to); err != nil {
		panic(err)
	}
}
