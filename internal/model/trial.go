package model

import "time"

// TrialState represents the lifecycle state of a trial.
type TrialState string

const (
	TrialRunning  TrialState = "RUNNING"
	TrialComplete TrialState = "COMPLETE"
	TrialPruned   TrialState = "PRUNED"
	TrialFailed   TrialState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s TrialState) Terminal() bool {
	switch s {
	case TrialComplete, TrialPruned, TrialFailed:
		return true
	}
	return false
}

// Observation is one intermediate metric report from a running trial.
type Observation struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// Trial is one sampled configuration and its execution record.
// Numbers are contiguous per study starting at 0. A trial is mutated
// only by the worker that owns it until it reaches a terminal state;
// after that it is immutable.
type Trial struct {
	StudyID int64          `json:"study_id"`
	Number  int64          `json:"number"`
	Params  map[string]any `json:"params"`

	// Intermediate holds reported observations in step order.
	Intermediate []Observation `json:"intermediate_values,omitempty"`

	// FinalValue is set when the trial reaches COMPLETE, or PRUNED with
	// a recorded last observation. Nil for RUNNING and FAILED trials.
	FinalValue *float64 `json:"final_value,omitempty"`

	State TrialState `json:"state"`

	// WorkerID identifies the process that owns the trial while it runs.
	WorkerID string `json:"worker_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// LastObservation returns the most recent intermediate report.
func (t Trial) LastObservation() (Observation, bool) {
	if len(t.Intermediate) == 0 {
		return Observation{}, false
	}
	return t.Intermediate[len(t.Intermediate)-1], true
}

// ObservationAt returns the reported value at the given step, if any.
func (t Trial) ObservationAt(step int) (float64, bool) {
	for _, o := range t.Intermediate {
		if o.Step == step {
			return o.Value, true
		}
	}
	return 0, false
}
