package pruner_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tansaku/internal/model"
	"github.com/ashita-ai/tansaku/internal/pruner"
)

func TestNewRegistry(t *testing.T) {
	p, err := pruner.New(nil)
	require.NoError(t, err)
	_, isNop := p.(pruner.Nop)
	assert.True(t, isNop, "nil config means never prune")

	p, err = pruner.New(&pruner.Config{Type: "median"})
	require.NoError(t, err)
	require.NotNil(t, p)

	p, err = pruner.New(&pruner.Config{Type: "MedianPruner"})
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = pruner.New(&pruner.Config{Type: "hyperband"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pruner.ErrUnknownStrategy))
}

func TestNopNeverPrunes(t *testing.T) {
	trial := model.Trial{Intermediate: []model.Observation{{Step: 1, Value: 1e9}}}
	prune, err := pruner.Nop{}.ShouldPrune(model.DirectionMinimize, trial, nil)
	require.NoError(t, err)
	assert.False(t, prune)
}

// terminalTrial builds a COMPLETE trial with one observation per step.
func terminalTrial(number int64, values ...float64) model.Trial {
	t := model.Trial{Number: number, State: model.TrialComplete}
	for i, v := range values {
		t.Intermediate = append(t.Intermediate, model.Observation{Step: i + 1, Value: v})
	}
	last := values[len(values)-1]
	t.FinalValue = &last
	return t
}

func TestMedianPrunesWorseThanMedian(t *testing.T) {
	others := []model.Trial{
		terminalTrial(0, 1.0, 0.9),
		terminalTrial(1, 1.1, 1.0),
		terminalTrial(2, 0.9, 0.8),
		terminalTrial(3, 1.2, 1.1),
		terminalTrial(4, 1.0, 0.95),
	}
	m := pruner.NewMedian(map[string]any{"n_startup_trials": float64(3)})

	// Minimizing: a loss far above the step-2 median gets pruned.
	bad := model.Trial{Number: 10, State: model.TrialRunning,
		Intermediate: []model.Observation{{Step: 1, Value: 1.0}, {Step: 2, Value: 5.0}}}
	prune, err := m.ShouldPrune(model.DirectionMinimize, bad, others)
	require.NoError(t, err)
	assert.True(t, prune)

	// A loss below the median survives.
	good := model.Trial{Number: 11, State: model.TrialRunning,
		Intermediate: []model.Observation{{Step: 1, Value: 1.0}, {Step: 2, Value: 0.5}}}
	prune, err = m.ShouldPrune(model.DirectionMinimize, good, others)
	require.NoError(t, err)
	assert.False(t, prune)

	// Under maximize the comparison flips.
	prune, err = m.ShouldPrune(model.DirectionMaximize, bad, others)
	require.NoError(t, err)
	assert.False(t, prune)
}

func TestMedianStartupAndWarmup(t *testing.T) {
	trial := model.Trial{Number: 9, State: model.TrialRunning,
		Intermediate: []model.Observation{{Step: 1, Value: 100.0}}}

	// Not enough terminal trials yet.
	m := pruner.NewMedian(map[string]any{"n_startup_trials": float64(5)})
	prune, err := m.ShouldPrune(model.DirectionMinimize, trial, []model.Trial{terminalTrial(0, 1.0)})
	require.NoError(t, err)
	assert.False(t, prune)

	// Inside the warmup window.
	m = pruner.NewMedian(map[string]any{"n_startup_trials": float64(0), "n_warmup_steps": float64(3)})
	prune, err = m.ShouldPrune(model.DirectionMinimize, trial,
		[]model.Trial{terminalTrial(0, 1.0), terminalTrial(1, 1.0)})
	require.NoError(t, err)
	assert.False(t, prune)

	// No observation yet: nothing to judge.
	m = pruner.NewMedian(nil)
	prune, err = m.ShouldPrune(model.DirectionMinimize, model.Trial{Number: 9}, nil)
	require.NoError(t, err)
	assert.False(t, prune)
}

func TestMedianIgnoresRunningPeers(t *testing.T) {
	// RUNNING peers do not count toward startup or the median.
	running := model.Trial{Number: 0, State: model.TrialRunning,
		Intermediate: []model.Observation{{Step: 1, Value: 0.0}}}
	trial := model.Trial{Number: 1, State: model.TrialRunning,
		Intermediate: []model.Observation{{Step: 1, Value: 100.0}}}

	m := pruner.NewMedian(map[string]any{"n_startup_trials": float64(1)})
	prune, err := m.ShouldPrune(model.DirectionMinimize, trial, []model.Trial{running})
	require.NoError(t, err)
	assert.False(t, prune)
}
