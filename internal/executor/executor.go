// Package executor binds one trial to the training collaborator: it
// materializes the configuration, isolates the trial's output directory
// and bridges intermediate reports back into the study.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashita-ai/tansaku/internal/model"
	"github.com/ashita-ai/tansaku/internal/study"
	"github.com/ashita-ai/tansaku/internal/trainer"
)

// ErrDirectoryConflict is returned when a trial's output directory
// already exists. It is fatal for that trial only.
var ErrDirectoryConflict = errors.New("executor: output directory already exists")

// Config controls trial execution.
type Config struct {
	// BaseConfig is the decoded base training configuration the trial
	// parameters are overlaid onto.
	BaseConfig map[string]any

	// OutputRoot is the directory under which each trial gets an
	// isolated trial_<n> subdirectory.
	OutputRoot string

	// FailFatal re-signals training failures to the orchestrator
	// instead of recording FAILED and moving on.
	FailFatal bool
}

// Executor runs trials against a training collaborator.
type Executor struct {
	study   *study.Study
	trainer trainer.Trainer
	cfg     Config
	logger  *slog.Logger
}

// New constructs an Executor.
func New(st *study.Study, tr trainer.Trainer, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{study: st, trainer: tr, cfg: cfg, logger: logger}
}

// Run executes one trial. The returned state says how the trial ended:
//
//	COMPLETE  value holds the metric; the caller records it via Tell
//	PRUNED    the study already recorded the trial; value is its last report
//	FAILED    the study already recorded the trial; err is non-nil only
//	          when failures are configured fatal or the directory conflicted
func (e *Executor) Run(ctx context.Context, trial model.Trial) (value float64, state model.TrialState, err error) {
	dir, err := e.trialDir(trial)
	if err != nil {
		// The collaborator never ran; record the trial as failed and let
		// the orchestrator decide whether conflicts are piling up.
		if tellErr := e.study.Tell(ctx, trial.Number, model.TrialFailed, nil); tellErr != nil {
			return 0, model.TrialFailed, tellErr
		}
		return 0, model.TrialFailed, err
	}

	materialized := e.materialize(trial)
	if err := writeConfig(dir, materialized); err != nil {
		if tellErr := e.study.Tell(ctx, trial.Number, model.TrialFailed, nil); tellErr != nil {
			return 0, model.TrialFailed, tellErr
		}
		return 0, model.TrialFailed, err
	}

	// Pruning cancels this context so trainers blocked between reports
	// still observe the stop request.
	trialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pruned := false
	lastValue := 0.0
	report := func(step int, v float64) (bool, error) {
		stop, err := e.study.Report(trialCtx, trial.Number, step, v)
		if err != nil {
			return true, err
		}
		lastValue = v
		if stop {
			pruned = true
			cancel()
		}
		return stop, nil
	}

	metric, trainErr := e.trainer.Train(trialCtx, materialized, dir, report)

	if pruned {
		// Report already transitioned the trial to PRUNED with its last
		// intermediate value; tolerate whatever the trainer returned.
		return lastValue, model.TrialPruned, nil
	}

	if trainErr != nil {
		e.logger.Warn("trial failed", "trial", trial.Number, "error", trainErr)
		if tellErr := e.study.Tell(ctx, trial.Number, model.TrialFailed, nil); tellErr != nil {
			return 0, model.TrialFailed, tellErr
		}
		if e.cfg.FailFatal {
			return 0, model.TrialFailed, fmt.Errorf("executor: trial %d: %w", trial.Number, trainErr)
		}
		return 0, model.TrialFailed, nil
	}

	return metric, model.TrialComplete, nil
}

// trialDir creates the isolated output directory for a trial. The
// directory must not pre-exist: a collision means another run already
// claimed this trial number under the same root.
func (e *Executor) trialDir(trial model.Trial) (string, error) {
	if err := os.MkdirAll(e.cfg.OutputRoot, 0o755); err != nil {
		return "", fmt.Errorf("executor: create output root: %w", err)
	}
	dir := filepath.Join(e.cfg.OutputRoot, fmt.Sprintf("trial_%d", trial.Number))
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrDirectoryConflict, dir)
		}
		return "", fmt.Errorf("executor: create trial dir: %w", err)
	}
	return dir, nil
}

// materialize overlays the trial's sampled parameters onto the base
// configuration. Trial keys win; everything else passes through
// unchanged. Validating the result is the collaborator's job.
func (e *Executor) materialize(trial model.Trial) map[string]any {
	out := make(map[string]any, len(e.cfg.BaseConfig)+len(trial.Params))
	for k, v := range e.cfg.BaseConfig {
		out[k] = v
	}
	for k, v := range trial.Params {
		out[k] = v
	}
	return out
}

// writeConfig persists the materialized configuration into the trial
// directory for the collaborator (and for later inspection).
func writeConfig(dir string, cfg map[string]any) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("executor: encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), raw, 0o644); err != nil {
		return fmt.Errorf("executor: write config: %w", err)
	}
	return nil
}
