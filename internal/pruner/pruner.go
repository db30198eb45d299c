// Package pruner provides the early-termination strategies consulted
// after each intermediate report of a running trial.
//
// Like samplers, strategies are dispatched through a closed registry.
// A nil config means no trial is ever pruned.
package pruner

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/tansaku/internal/model"
)

// ErrUnknownStrategy is returned for a pruner type name the registry
// does not recognize.
var ErrUnknownStrategy = errors.New("pruner: unknown strategy")

// Pruner decides whether a reporting trial should stop early. It
// receives the trial's own intermediate values and read-only access to
// the other trials of the study; it must not mutate either.
type Pruner interface {
	ShouldPrune(direction model.Direction, trial model.Trial, others []model.Trial) (bool, error)
}

// Config selects and parameterizes a strategy, decoded from the
// optional sampler/pruner configuration document.
type Config struct {
	Type    string         `json:"type"`
	Keyword map[string]any `json:"keyword"`
}

// New constructs a pruner from a config. A nil config or empty type
// yields a Nop pruner that never prunes.
func New(cfg *Config) (Pruner, error) {
	if cfg == nil || cfg.Type == "" {
		return Nop{}, nil
	}
	switch cfg.Type {
	case "nop", "NopPruner":
		return Nop{}, nil
	case "median", "MedianPruner":
		return NewMedian(cfg.Keyword), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Type)
	}
}

// Nop never prunes.
type Nop struct{}

// ShouldPrune always reports false.
func (Nop) ShouldPrune(model.Direction, model.Trial, []model.Trial) (bool, error) {
	return false, nil
}
