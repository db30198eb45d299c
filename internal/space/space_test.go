package space_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tansaku/internal/model"
	"github.com/ashita-ai/tansaku/internal/space"
)

func TestParse(t *testing.T) {
	doc := []byte(`[
		{"type": "uniform", "keyword": {"name": "lr", "low": 0.001, "high": 0.1}},
		{"type": "loguniform", "keyword": {"name": "weight_decay", "low": 1e-8, "high": 0.01}},
		{"type": "int", "keyword": {"name": "num_layers", "low": 1, "high": 4}},
		{"type": "categorical", "keyword": {"name": "optimizer", "choices": ["adam", "sgd"]}},
		{"type": "discrete_uniform", "keyword": {"name": "dropout", "low": 0, "high": 0.5, "q": 0.1}}
	]`)

	s, err := space.Parse(doc)
	require.NoError(t, err)
	require.Equal(t, 5, s.Len())

	specs := s.Specs()
	assert.Equal(t, "lr", specs[0].Name)
	assert.Equal(t, model.KindFloat, specs[0].Kind)
	assert.Equal(t, model.KindLogUniform, specs[1].Kind)
	assert.Equal(t, model.KindInt, specs[2].Kind)
	assert.Equal(t, model.KindCategorical, specs[3].Kind)
	assert.Equal(t, model.KindDiscreteUniform, specs[4].Kind)

	sp, ok := s.Spec("dropout")
	require.True(t, ok)
	assert.Equal(t, 0.1, sp.Q)

	_, ok = s.Spec("nope")
	assert.False(t, ok)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{"not": "a list"}`},
		{"empty list", `[]`},
		{"unknown type", `[{"type": "gaussian", "keyword": {"name": "x", "low": 0, "high": 1}}]`},
		{"inverted bounds", `[{"type": "uniform", "keyword": {"name": "x", "low": 1, "high": 0}}]`},
		{"loguniform zero low", `[{"type": "loguniform", "keyword": {"name": "x", "low": 0, "high": 1}}]`},
		{"empty choices", `[{"type": "categorical", "keyword": {"name": "x", "choices": []}}]`},
		{"nested array choices", `[{"type": "categorical", "keyword": {"name": "dims", "choices": [[128, 64], [256, 128]]}}]`},
		{"object choices", `[{"type": "categorical", "keyword": {"name": "opt", "choices": [{"name": "adam"}]}}]`},
		{"missing name", `[{"type": "uniform", "keyword": {"low": 0, "high": 1}}]`},
		{"duplicate name", `[
			{"type": "uniform", "keyword": {"name": "x", "low": 0, "high": 1}},
			{"type": "int", "keyword": {"name": "x", "low": 0, "high": 1}}
		]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := space.Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, space.ErrMalformedSpec), "want ErrMalformedSpec, got %v", err)
		})
	}
}

// fixedSampler returns canned values per parameter name.
type fixedSampler map[string]any

func (f fixedSampler) Suggest(spec model.ParameterSpec, _ []model.Trial) (any, error) {
	return f[spec.Name], nil
}

func TestResolve(t *testing.T) {
	doc := []byte(`[
		{"type": "uniform", "keyword": {"name": "lr", "low": 0.001, "high": 0.1}},
		{"type": "categorical", "keyword": {"name": "optimizer", "choices": ["adam", "sgd"]}}
	]`)
	s, err := space.Parse(doc)
	require.NoError(t, err)

	params, err := s.Resolve(fixedSampler{"lr": 0.05, "optimizer": "sgd"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lr": 0.05, "optimizer": "sgd"}, params)
}

func TestResolveRejectsOutOfBounds(t *testing.T) {
	doc := []byte(`[{"type": "uniform", "keyword": {"name": "lr", "low": 0.001, "high": 0.1}}]`)
	s, err := space.Parse(doc)
	require.NoError(t, err)

	_, err = s.Resolve(fixedSampler{"lr": 0.5}, nil)
	require.Error(t, err)
}

func TestNormalizeParams(t *testing.T) {
	doc := []byte(`[
		{"type": "int", "keyword": {"name": "num_layers", "low": 1, "high": 4}},
		{"type": "uniform", "keyword": {"name": "lr", "low": 0, "high": 1}}
	]`)
	s, err := space.Parse(doc)
	require.NoError(t, err)

	// Params loaded back from JSON storage arrive as float64.
	got := s.NormalizeParams(map[string]any{"num_layers": float64(3), "lr": 0.5, "extra": "kept"})
	assert.Equal(t, map[string]any{"num_layers": int64(3), "lr": 0.5, "extra": "kept"}, got)
}
