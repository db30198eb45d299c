// Package study implements the durable study aggregate: trial creation,
// intermediate reporting with pruning, result recording and best-trial
// lookup, all against a shared storage backend.
//
// A Study holds no authoritative state in memory. Every operation reads
// from and writes to the Store, so any number of processes can share
// one study by name.
package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/tansaku/internal/model"
	"github.com/ashita-ai/tansaku/internal/pruner"
	"github.com/ashita-ai/tansaku/internal/sampler"
	"github.com/ashita-ai/tansaku/internal/space"
	"github.com/ashita-ai/tansaku/internal/storage"
)

var (
	// ErrDuplicateStudy is returned by CreateOrLoad when the name is
	// taken and loading was not permitted.
	ErrDuplicateStudy = errors.New("study: study already exists")

	// ErrInvalidTransition is returned by Tell for a trial that does not
	// exist or is not RUNNING. It indicates corrupted study state or a
	// caller bug and is always fatal.
	ErrInvalidTransition = errors.New("study: invalid trial transition")

	// ErrNoCompletedTrial is returned by Best when no trial has reached
	// an eligible terminal state.
	ErrNoCompletedTrial = errors.New("study: no completed trial")
)

// Params configures CreateOrLoad. Store is required; Space and Sampler
// are required only to Ask, so read-only handles (exporting best
// params) can omit them. A nil Pruner means no trial is ever pruned.
type Params struct {
	Name      string
	Direction model.Direction
	Store     storage.Store
	Space     *space.SearchSpace
	Sampler   sampler.Sampler
	Pruner    pruner.Pruner

	// LoadIfExists permits attaching to an existing study of the same
	// name instead of failing. The sampler and pruner given here are
	// re-attached to the loaded study.
	LoadIfExists bool

	// ConsiderPruned makes pruned trials' last intermediate values
	// eligible for Best. Recorded on the study at creation; ignored
	// when loading an existing study, whose recorded choice wins.
	ConsiderPruned bool

	// WorkerID is stamped on trials this process starts. Defaults to a
	// random identity when empty.
	WorkerID string

	Logger *slog.Logger
}

// Study is one optimization problem bound to its storage, sampler and
// pruner for the duration of an orchestrator run or an export query.
type Study struct {
	record  model.Study
	store   storage.Store
	space   *space.SearchSpace
	sampler sampler.Sampler
	pruner  pruner.Pruner
	worker  string
	logger  *slog.Logger
}

// CreateOrLoad creates a new study record or, when LoadIfExists is set,
// attaches to an existing one by name. A name collision without
// LoadIfExists fails with ErrDuplicateStudy. Two processes racing to
// create the same study converge: the loser of the insert race loads
// the winner's record.
func CreateOrLoad(ctx context.Context, p Params) (*Study, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("study: no storage configured")
	}
	if p.Pruner == nil {
		p.Pruner = pruner.Nop{}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	record, err := p.Store.GetStudy(ctx, p.Name)
	switch {
	case err == nil:
		if !p.LoadIfExists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStudy, p.Name)
		}
		if record.Direction != p.Direction {
			return nil, fmt.Errorf("study: %q has direction %s, requested %s", p.Name, record.Direction, p.Direction)
		}
		p.Logger.Info("loaded existing study", "study", p.Name, "direction", record.Direction)
	case errors.Is(err, storage.ErrNotFound):
		record, err = p.Store.CreateStudy(ctx, p.Name, p.Direction, p.ConsiderPruned)
		if errors.Is(err, storage.ErrDuplicateStudy) && p.LoadIfExists {
			// Lost a creation race against another process.
			record, err = p.Store.GetStudy(ctx, p.Name)
		}
		if err != nil {
			if errors.Is(err, storage.ErrDuplicateStudy) {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateStudy, p.Name)
			}
			return nil, fmt.Errorf("study: create %q: %w", p.Name, err)
		}
		p.Logger.Info("created study", "study", p.Name, "direction", record.Direction)
	default:
		return nil, fmt.Errorf("study: load %q: %w", p.Name, err)
	}

	return &Study{
		record:  record,
		store:   p.Store,
		space:   p.Space,
		sampler: p.Sampler,
		pruner:  p.Pruner,
		worker:  p.WorkerID,
		logger:  p.Logger,
	}, nil
}

// Record returns the study's durable record.
func (s *Study) Record() model.Study { return s.record }

// Direction returns the optimization direction.
func (s *Study) Direction() model.Direction { return s.record.Direction }

// Ask atomically allocates the next trial: it resolves parameters from
// the search space through the sampler (conditioned on terminal trials
// only) and writes the RUNNING record. Numbering continues from the
// highest recorded trial, so a resumed study never restarts at 0.
func (s *Study) Ask(ctx context.Context) (model.Trial, error) {
	if s.space == nil {
		return model.Trial{}, fmt.Errorf("study: no search space configured")
	}
	if s.sampler == nil {
		return model.Trial{}, fmt.Errorf("study: no sampler configured")
	}

	history, err := s.terminalTrials(ctx)
	if err != nil {
		return model.Trial{}, err
	}

	params, err := s.space.Resolve(s.sampler, history)
	if err != nil {
		return model.Trial{}, fmt.Errorf("study: resolve params: %w", err)
	}

	trial, err := s.store.BeginTrial(ctx, s.record.ID, params, s.worker)
	if err != nil {
		return model.Trial{}, fmt.Errorf("study: begin trial: %w", err)
	}
	s.logger.Info("trial started", "study", s.record.Name, "trial", trial.Number, "params", params)
	return trial, nil
}

// Report appends an intermediate value and consults the pruner. When
// the pruner requests termination, the trial is marked PRUNED with the
// last reported value recorded as its final value, and Report returns
// true so the caller stops execution. Pruning is a status result, not
// an error.
func (s *Study) Report(ctx context.Context, number int64, step int, value float64) (bool, error) {
	if err := s.store.AddObservation(ctx, s.record.ID, number, step, value); err != nil {
		if errors.Is(err, storage.ErrTrialNotRunning) {
			return false, fmt.Errorf("%w: report on trial %d", ErrInvalidTransition, number)
		}
		return false, fmt.Errorf("study: report: %w", err)
	}

	trial, err := s.store.GetTrial(ctx, s.record.ID, number)
	if err != nil {
		return false, fmt.Errorf("study: report: %w", err)
	}
	others, err := s.store.ListTrials(ctx, s.record.ID)
	if err != nil {
		return false, fmt.Errorf("study: report: %w", err)
	}

	prune, err := s.pruner.ShouldPrune(s.record.Direction, trial, others)
	if err != nil {
		return false, fmt.Errorf("study: pruner: %w", err)
	}
	if !prune {
		return false, nil
	}

	if err := s.store.FinishTrial(ctx, s.record.ID, number, model.TrialPruned, &value); err != nil {
		return false, fmt.Errorf("study: prune trial %d: %w", number, err)
	}
	s.logger.Info("trial pruned", "study", s.record.Name, "trial", number, "step", step, "value", value)
	return true, nil
}

// Tell transitions a RUNNING trial to COMPLETE or FAILED. Any other
// starting state, or an unknown trial, fails with ErrInvalidTransition.
func (s *Study) Tell(ctx context.Context, number int64, state model.TrialState, finalValue *float64) error {
	if state != model.TrialComplete && state != model.TrialFailed {
		return fmt.Errorf("%w: tell cannot record state %s", ErrInvalidTransition, state)
	}
	err := s.store.FinishTrial(ctx, s.record.ID, number, state, finalValue)
	if err != nil {
		if errors.Is(err, storage.ErrTrialNotRunning) || errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: tell on trial %d: %v", ErrInvalidTransition, number, err)
		}
		return fmt.Errorf("study: tell: %w", err)
	}
	s.logger.Info("trial finished", "study", s.record.Name, "trial", number, "state", state)
	return nil
}

// Best returns the eligible trial with the extremal final value, ties
// broken by earliest number. Pruned trials compete only when the study
// was created with ConsiderPruned. Parameter values are normalized back
// to their declared kinds when a search space is attached.
func (s *Study) Best(ctx context.Context) (model.Trial, error) {
	trials, err := s.store.ListTrials(ctx, s.record.ID)
	if err != nil {
		return model.Trial{}, fmt.Errorf("study: best: %w", err)
	}
	best, ok := model.BestOf(trials, s.record.Direction, s.record.ConsiderPruned)
	if !ok {
		return model.Trial{}, fmt.Errorf("%w: study %q", ErrNoCompletedTrial, s.record.Name)
	}
	if s.space != nil {
		best.Params = s.space.NormalizeParams(best.Params)
	}
	return best, nil
}

// Trials returns all trials of the study in number order.
func (s *Study) Trials(ctx context.Context) ([]model.Trial, error) {
	trials, err := s.store.ListTrials(ctx, s.record.ID)
	if err != nil {
		return nil, fmt.Errorf("study: list trials: %w", err)
	}
	return trials, nil
}

// terminalTrials filters the study history down to trials in terminal
// states. Samplers must never wait on in-flight trials.
func (s *Study) terminalTrials(ctx context.Context) ([]model.Trial, error) {
	all, err := s.store.ListTrials(ctx, s.record.ID)
	if err != nil {
		return nil, fmt.Errorf("study: list trials: %w", err)
	}
	terminal := all[:0]
	for _, t := range all {
		if t.State.Terminal() {
			terminal = append(terminal, t)
		}
	}
	return terminal, nil
}
