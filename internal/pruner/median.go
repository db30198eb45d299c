package pruner

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ashita-ai/tansaku/internal/model"
)

// Median prunes a trial whose latest reported value is worse than the
// median of the other trials' values at the same step.
//
// Keywords: "n_startup_trials" (default 5) — never prune until that
// many trials have reached a terminal state; "n_warmup_steps" (default
// 0) — never prune at or below that step.
type Median struct {
	nStartupTrials int
	nWarmupSteps   int
}

// NewMedian constructs a median pruner.
func NewMedian(keyword map[string]any) *Median {
	startup, warmup := 5, 0
	if keyword != nil {
		if v, ok := keyword["n_startup_trials"].(float64); ok {
			startup = int(v)
		}
		if v, ok := keyword["n_warmup_steps"].(float64); ok {
			warmup = int(v)
		}
	}
	return &Median{nStartupTrials: startup, nWarmupSteps: warmup}
}

// ShouldPrune compares the trial's latest observation against the
// median of comparable observations from other terminal trials.
func (m *Median) ShouldPrune(direction model.Direction, trial model.Trial, others []model.Trial) (bool, error) {
	last, ok := trial.LastObservation()
	if !ok || last.Step <= m.nWarmupSteps {
		return false, nil
	}

	var peers []float64
	terminal := 0
	for _, o := range others {
		if o.Number == trial.Number || !o.State.Terminal() {
			continue
		}
		terminal++
		if v, ok := o.ObservationAt(last.Step); ok {
			peers = append(peers, v)
		}
	}
	if terminal < m.nStartupTrials || len(peers) == 0 {
		return false, nil
	}

	sort.Float64s(peers)
	median := stat.Quantile(0.5, stat.Empirical, peers, nil)

	// Prune when the trial is strictly worse than the median under the
	// study direction.
	return direction.BetterThan(median, last.Value), nil
}
