// Package sampler provides the suggestion strategies that resolve
// hyperparameter values for new trials.
//
// Strategies are dispatched through a closed registry: New maps known
// type names onto constructors and rejects everything else with
// ErrUnknownStrategy. There is no reflective lookup.
package sampler

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/ashita-ai/tansaku/internal/model"
)

// ErrUnknownStrategy is returned for a sampler type name the registry
// does not recognize.
var ErrUnknownStrategy = errors.New("sampler: unknown strategy")

// Sampler suggests a value for one parameter. History contains only
// trials in terminal states; samplers must never block waiting on
// in-flight trials. Suggestions must satisfy the spec's bounds.
type Sampler interface {
	Suggest(spec model.ParameterSpec, history []model.Trial) (any, error)
}

// Config selects and parameterizes a strategy, decoded from the
// optional sampler/pruner configuration document:
//
//	{"sampler": {"type": "tpe", "keyword": {"n_startup_trials": 5}}}
type Config struct {
	Type    string         `json:"type"`
	Keyword map[string]any `json:"keyword"`
}

// New constructs a sampler from a config. A nil config or empty type
// falls back to the default uniform-random strategy. The direction is
// needed by history-informed strategies to rank past trials; seed makes
// suggestion sequences reproducible.
func New(cfg *Config, direction model.Direction, seed int64) (Sampler, error) {
	if cfg == nil || cfg.Type == "" {
		return NewRandom(seed), nil
	}
	switch cfg.Type {
	case "random", "RandomSampler":
		return NewRandom(seed), nil
	case "grid", "GridSampler":
		return NewGrid(cfg.Keyword, seed)
	case "tpe", "TPESampler":
		return NewTPE(cfg.Keyword, direction, seed)
	case "gp", "GPSampler":
		return NewGP(cfg.Keyword, direction, seed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Type)
	}
}

// lockedRand serializes access to a seeded rand.Rand so samplers stay
// safe when one study drives several in-process workers.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Int63n(n)
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

// observations extracts (param value, objective) pairs for one numeric
// parameter from terminal trials that carry a final value. Values are
// negated for maximize so lower is always better internally.
func observations(spec model.ParameterSpec, history []model.Trial, direction model.Direction) (xs, ys []float64) {
	for _, t := range history {
		if t.State != model.TrialComplete || t.FinalValue == nil {
			continue
		}
		raw, ok := t.Params[spec.Name]
		if !ok {
			continue
		}
		x, ok := numeric(raw)
		if !ok {
			continue
		}
		y := *t.FinalValue
		if direction == model.DirectionMaximize {
			y = -y
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// keywordFloat reads a float option from a strategy keyword map,
// accepting JSON numbers and ints.
func keywordFloat(kw map[string]any, key string, def float64) float64 {
	if kw == nil {
		return def
	}
	if v, ok := kw[key]; ok {
		if f, ok := numeric(v); ok {
			return f
		}
	}
	return def
}

func keywordInt(kw map[string]any, key string, def int) int {
	return int(keywordFloat(kw, key, float64(def)))
}
