// Package model defines the core domain types for tansaku.
//
// Types correspond directly to database tables: studies, trials and
// trial_values. They use strong typing (enums, time.Time) and avoid
// interface{} except for sampled parameter values, whose concrete type
// depends on the parameter kind.
package model

import (
	"fmt"
	"sort"
	"time"
)

// Direction says whether a study seeks the minimum or maximum of the metric.
type Direction string

const (
	DirectionMinimize Direction = "minimize"
	DirectionMaximize Direction = "maximize"
)

// ParseDirection validates a direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionMinimize, DirectionMaximize:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("model: unknown direction %q", s)
	}
}

// BetterThan reports whether value a strictly beats value b under the direction.
func (d Direction) BetterThan(a, b float64) bool {
	if d == DirectionMaximize {
		return a > b
	}
	return a < b
}

// Study is the durable record of one optimization problem.
// Trials reference it by ID; the authoritative copy lives in storage.
type Study struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`

	// ConsiderPruned makes a pruned trial's last intermediate value
	// eligible for Best. Off by default; it must be an explicit choice
	// because it changes what "best" means for the whole study.
	ConsiderPruned bool `json:"consider_pruned"`

	CreatedAt time.Time `json:"created_at"`
}

// BestOf returns the trial with the extremal final value per direction.
// Only COMPLETE trials are eligible unless considerPruned is set, in
// which case PRUNED trials with a recorded final value compete too.
// Ties break toward the earliest trial number. The second return is
// false when no trial is eligible.
func BestOf(trials []Trial, d Direction, considerPruned bool) (Trial, bool) {
	ordered := make([]Trial, len(trials))
	copy(ordered, trials)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	var best Trial
	found := false
	for _, t := range ordered {
		switch t.State {
		case TrialComplete:
		case TrialPruned:
			if !considerPruned {
				continue
			}
		default:
			continue
		}
		if t.FinalValue == nil {
			continue
		}
		// Strict comparison keeps the earliest number on ties.
		if !found || d.BetterThan(*t.FinalValue, *best.FinalValue) {
			best = t
			found = true
		}
	}
	return best, found
}
