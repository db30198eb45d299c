// Package trainer defines the training collaborator contract and the
// command-based implementation the CLI uses.
//
// The training procedure itself is opaque to tansaku: given a fully
// materialized configuration and an isolated output directory, it
// produces one scalar metric, optionally reporting intermediate values
// along the way.
package trainer

import "context"

// ReportFunc forwards one intermediate metric report. It returns true
// when the trial has been pruned: the trainer must stop between
// reporting steps — cancellation is cooperative, never preemptive. The
// trial context passed to Train is also cancelled on pruning.
type ReportFunc func(step int, value float64) (stop bool, err error)

// Trainer runs one training job and returns the metric being optimized.
type Trainer interface {
	Train(ctx context.Context, cfg map[string]any, outDir string, report ReportFunc) (float64, error)
}

// Func adapts a plain function to the Trainer interface.
type Func func(ctx context.Context, cfg map[string]any, outDir string, report ReportFunc) (float64, error)

// Train implements Trainer.
func (f Func) Train(ctx context.Context, cfg map[string]any, outDir string, report ReportFunc) (float64, error) {
	return f(ctx, cfg, outDir, report)
}
