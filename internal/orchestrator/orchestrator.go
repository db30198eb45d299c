// Package orchestrator drives a study to its trial budget with a pool
// of concurrent workers sharing one storage backend.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/tansaku/internal/executor"
	"github.com/ashita-ai/tansaku/internal/model"
	"github.com/ashita-ai/tansaku/internal/study"
	"github.com/ashita-ai/tansaku/internal/telemetry"
)

// Consecutive directory conflicts on one worker mean the output root is
// shared with a run that is ahead of us; retrying forever cannot help.
const maxConsecutiveConflicts = 3

// Config bounds an optimization run.
type Config struct {
	// NTrials is the number of trials this run starts, shared across all
	// workers. Zero or negative means unbounded.
	NTrials int

	// NJobs is the worker count. Values below 1 are treated as 1.
	NJobs int

	// Timeout bounds when trials may START. A trial started before the
	// deadline runs to completion even past it. Zero means no deadline.
	Timeout time.Duration
}

// Orchestrator runs trials until the budget, the deadline or the
// context stops it.
type Orchestrator struct {
	study   *study.Study
	exec    *executor.Executor
	cfg     Config
	metrics *telemetry.TrialMetrics
	logger  *slog.Logger
}

// New constructs an Orchestrator.
func New(st *study.Study, ex *executor.Executor, cfg Config, metrics *telemetry.TrialMetrics, logger *slog.Logger) *Orchestrator {
	if cfg.NJobs < 1 {
		cfg.NJobs = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{study: st, exec: ex, cfg: cfg, metrics: metrics, logger: logger}
}

// Run executes trials until the shared budget is spent, the deadline
// passes or a fatal error surfaces. It returns the first fatal error;
// per-trial failures are fatal only when the executor says so.
func (o *Orchestrator) Run(ctx context.Context) error {
	var deadline time.Time
	if o.cfg.Timeout > 0 {
		deadline = time.Now().Add(o.cfg.Timeout)
	}

	// remaining counts down across workers so the budget holds globally,
	// not per worker.
	var remaining atomic.Int64
	if o.cfg.NTrials > 0 {
		remaining.Store(int64(o.cfg.NTrials))
	} else {
		remaining.Store(1 << 62)
	}

	o.logger.Info("optimization started",
		"n_trials", o.cfg.NTrials, "n_jobs", o.cfg.NJobs, "timeout", o.cfg.Timeout)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < o.cfg.NJobs; w++ {
		g.Go(func() error {
			return o.worker(gctx, &remaining, deadline)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("orchestrator: %w", err)
	}
	o.logger.Info("optimization finished")
	return nil
}

func (o *Orchestrator) worker(ctx context.Context, remaining *atomic.Int64, deadline time.Time) error {
	conflicts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil
		}
		if remaining.Add(-1) < 0 {
			return nil
		}

		trial, err := o.study.Ask(ctx)
		if err != nil {
			return err
		}
		o.observe(ctx, telemetry.TrialStarted)

		value, state, err := o.exec.Run(ctx, trial)
		if err != nil {
			if errors.Is(err, executor.ErrDirectoryConflict) {
				conflicts++
				o.logger.Warn("trial output directory conflict",
					"trial", trial.Number, "consecutive", conflicts)
				if conflicts >= maxConsecutiveConflicts {
					return fmt.Errorf("%d consecutive output directory conflicts: %w", conflicts, err)
				}
				o.observe(ctx, telemetry.TrialFailed)
				continue
			}
			return err
		}
		conflicts = 0

		switch state {
		case model.TrialComplete:
			if err := o.study.Tell(ctx, trial.Number, model.TrialComplete, &value); err != nil {
				return err
			}
			o.observe(ctx, telemetry.TrialCompleted)
		case model.TrialPruned:
			// Report already finalized the trial.
			o.observe(ctx, telemetry.TrialPruned)
		case model.TrialFailed:
			o.observe(ctx, telemetry.TrialFailed)
		}
	}
}

func (o *Orchestrator) observe(ctx context.Context, outcome string) {
	if o.metrics != nil {
		o.metrics.Observe(ctx, outcome)
	}
}
