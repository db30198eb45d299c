package tansaku

// Trial states as reported on the public Trial type.
const (
	StateRunning  = "RUNNING"
	StateComplete = "COMPLETE"
	StatePruned   = "PRUNED"
	StateFailed   = "FAILED"
)

// Optimization directions accepted by WithDirection.
const (
	Minimize = "minimize"
	Maximize = "maximize"
)

// Trial is the public view of one trial. No internal package imports —
// safe to use from outside the module.
type Trial struct {
	Number int64
	Params map[string]any
	// Value is the final metric: the trainer's result for COMPLETE
	// trials, the last intermediate report for PRUNED ones.
	Value float64
	State string
}
