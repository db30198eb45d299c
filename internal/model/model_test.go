package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tansaku/internal/model"
)

func TestParseDirection(t *testing.T) {
	d, err := model.ParseDirection("minimize")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionMinimize, d)

	d, err = model.ParseDirection("maximize")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionMaximize, d)

	_, err = model.ParseDirection("sideways")
	require.Error(t, err)
}

func TestParameterSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    model.ParameterSpec
		wantErr bool
	}{
		{
			name: "valid float",
			spec: model.ParameterSpec{Name: "lr", Kind: model.KindFloat, Low: 0.001, High: 0.1},
		},
		{
			name:    "float low above high",
			spec:    model.ParameterSpec{Name: "lr", Kind: model.KindFloat, Low: 1, High: 0},
			wantErr: true,
		},
		{
			name: "valid loguniform",
			spec: model.ParameterSpec{Name: "wd", Kind: model.KindLogUniform, Low: 1e-8, High: 1e-2},
		},
		{
			name:    "loguniform zero low",
			spec:    model.ParameterSpec{Name: "wd", Kind: model.KindLogUniform, Low: 0, High: 1},
			wantErr: true,
		},
		{
			name: "valid int",
			spec: model.ParameterSpec{Name: "layers", Kind: model.KindInt, Low: 1, High: 8},
		},
		{
			name: "valid discrete uniform",
			spec: model.ParameterSpec{Name: "dropout", Kind: model.KindDiscreteUniform, Low: 0, High: 0.5, Q: 0.1},
		},
		{
			name:    "discrete uniform without q",
			spec:    model.ParameterSpec{Name: "dropout", Kind: model.KindDiscreteUniform, Low: 0, High: 0.5},
			wantErr: true,
		},
		{
			name: "valid categorical",
			spec: model.ParameterSpec{Name: "opt", Kind: model.KindCategorical, Choices: []any{"adam", "sgd"}},
		},
		{
			name:    "empty categorical",
			spec:    model.ParameterSpec{Name: "opt", Kind: model.KindCategorical},
			wantErr: true,
		},
		{
			name: "numeric choices",
			spec: model.ParameterSpec{Name: "batch", Kind: model.KindCategorical, Choices: []any{float64(64), float64(128)}},
		},
		{
			// Slices and maps are not comparable; they must be rejected
			// here rather than panic in == comparisons downstream.
			name:    "slice choice",
			spec:    model.ParameterSpec{Name: "dims", Kind: model.KindCategorical, Choices: []any{[]any{128.0, 64.0}}},
			wantErr: true,
		},
		{
			name:    "map choice",
			spec:    model.ParameterSpec{Name: "opt", Kind: model.KindCategorical, Choices: []any{map[string]any{"name": "adam"}}},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			spec:    model.ParameterSpec{Name: "x", Kind: model.ParamKind("gaussian")},
			wantErr: true,
		},
		{
			name:    "missing name",
			spec:    model.ParameterSpec{Kind: model.KindFloat, Low: 0, High: 1},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParameterSpecContains(t *testing.T) {
	f := model.ParameterSpec{Name: "lr", Kind: model.KindFloat, Low: 0.001, High: 0.1}
	assert.True(t, f.Contains(0.05))
	assert.True(t, f.Contains(0.001))
	assert.True(t, f.Contains(0.1))
	assert.False(t, f.Contains(0.2))
	assert.False(t, f.Contains("0.05"))

	i := model.ParameterSpec{Name: "layers", Kind: model.KindInt, Low: 1, High: 8}
	assert.True(t, i.Contains(int64(3)))
	assert.False(t, i.Contains(3.5))
	assert.False(t, i.Contains(int64(9)))

	d := model.ParameterSpec{Name: "dropout", Kind: model.KindDiscreteUniform, Low: 0, High: 0.5, Q: 0.1}
	assert.True(t, d.Contains(0.3))
	assert.False(t, d.Contains(0.35))

	c := model.ParameterSpec{Name: "opt", Kind: model.KindCategorical, Choices: []any{"adam", "sgd"}}
	assert.True(t, c.Contains("adam"))
	assert.False(t, c.Contains("rmsprop"))
}

func TestNormalizeValue(t *testing.T) {
	i := model.ParameterSpec{Name: "layers", Kind: model.KindInt, Low: 1, High: 8}
	assert.Equal(t, int64(3), i.NormalizeValue(float64(3)))
	assert.Equal(t, int64(3), i.NormalizeValue(int64(3)))

	f := model.ParameterSpec{Name: "lr", Kind: model.KindFloat, Low: 0, High: 1}
	assert.Equal(t, 0.5, f.NormalizeValue(0.5))

	c := model.ParameterSpec{Name: "opt", Kind: model.KindCategorical, Choices: []any{"adam"}}
	assert.Equal(t, "adam", c.NormalizeValue("adam"))
}

func ptr(v float64) *float64 { return &v }

func TestBestOf(t *testing.T) {
	trials := []model.Trial{
		{Number: 0, State: model.TrialComplete, FinalValue: ptr(5.0)},
		{Number: 1, State: model.TrialComplete, FinalValue: ptr(3.0)},
		{Number: 2, State: model.TrialFailed, FinalValue: ptr(3.0)},
		{Number: 3, State: model.TrialComplete, FinalValue: ptr(3.0)},
	}

	// Tie between trials 1 and 3 breaks toward the earlier number;
	// the FAILED trial never wins even with an equal value.
	best, ok := model.BestOf(trials, model.DirectionMinimize, false)
	require.True(t, ok)
	assert.Equal(t, int64(1), best.Number)

	best, ok = model.BestOf(trials, model.DirectionMaximize, false)
	require.True(t, ok)
	assert.Equal(t, int64(0), best.Number)
}

func TestBestOfConsiderPruned(t *testing.T) {
	trials := []model.Trial{
		{Number: 0, State: model.TrialComplete, FinalValue: ptr(5.0)},
		{Number: 1, State: model.TrialPruned, FinalValue: ptr(1.0)},
	}

	best, ok := model.BestOf(trials, model.DirectionMinimize, false)
	require.True(t, ok)
	assert.Equal(t, int64(0), best.Number, "pruned trials excluded by default")

	best, ok = model.BestOf(trials, model.DirectionMinimize, true)
	require.True(t, ok)
	assert.Equal(t, int64(1), best.Number, "pruned trial wins when opted in")
}

func TestBestOfEmpty(t *testing.T) {
	_, ok := model.BestOf(nil, model.DirectionMinimize, false)
	assert.False(t, ok)

	// RUNNING and FAILED trials alone never produce a best.
	_, ok = model.BestOf([]model.Trial{
		{Number: 0, State: model.TrialRunning},
		{Number: 1, State: model.TrialFailed},
	}, model.DirectionMinimize, false)
	assert.False(t, ok)
}

func TestTrialStateTerminal(t *testing.T) {
	assert.False(t, model.TrialRunning.Terminal())
	assert.True(t, model.TrialComplete.Terminal())
	assert.True(t, model.TrialPruned.Terminal())
	assert.True(t, model.TrialFailed.Terminal())
}

func TestTrialObservations(t *testing.T) {
	tr := model.Trial{Intermediate: []model.Observation{{Step: 1, Value: 0.9}, {Step: 2, Value: 0.7}}}

	last, ok := tr.LastObservation()
	require.True(t, ok)
	assert.Equal(t, 2, last.Step)

	v, ok := tr.ObservationAt(1)
	require.True(t, ok)
	assert.Equal(t, 0.9, v)

	_, ok = tr.ObservationAt(5)
	assert.False(t, ok)

	_, ok = model.Trial{}.LastObservation()
	assert.False(t, ok)
}
