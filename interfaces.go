package tansaku

import "context"

// ReportFunc forwards one intermediate metric report to the study. It
// returns stop=true when the trial has been pruned; the trainer must
// then return promptly. The context passed to Train is also cancelled.
type ReportFunc func(step int, value float64) (stop bool, err error)

// Trainer runs one training job against a fully materialized
// configuration inside an isolated output directory and returns the
// scalar metric being optimized. Implementations should call report
// between natural checkpoints (epochs, eval rounds) so pruning can
// take effect.
type Trainer interface {
	Train(ctx context.Context, cfg map[string]any, outDir string, report ReportFunc) (float64, error)
}

// TrainerFunc adapts a plain function to the Trainer interface.
type TrainerFunc func(ctx context.Context, cfg map[string]any, outDir string, report ReportFunc) (float64, error)

// Train implements Trainer.
func (f TrainerFunc) Train(ctx context.Context, cfg map[string]any, outDir string, report ReportFunc) (float64, error) {
	return f(ctx, cfg, outDir, report)
}
