package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Command runs an external training program. The argv template may use
// the placeholders {config} and {outdir}, replaced with the path of the
// materialized configuration file and the trial's output directory.
// After the program exits the metric named Metric is read from
// metrics.json in the output directory.
//
// The program cannot call back into the study, so intermediate
// reporting (and therefore pruning) does not apply to command trainers.
type Command struct {
	Argv   []string
	Metric string
	Logger *slog.Logger
}

// Train executes the command and extracts the configured metric.
func (c *Command) Train(ctx context.Context, cfg map[string]any, outDir string, _ ReportFunc) (float64, error) {
	if len(c.Argv) == 0 {
		return 0, fmt.Errorf("trainer: empty command")
	}

	cfgPath := filepath.Join(outDir, "config.json")

	argv := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		a = strings.ReplaceAll(a, "{config}", cfgPath)
		a = strings.ReplaceAll(a, "{outdir}", outDir)
		argv[i] = a
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if c.Logger != nil {
		c.Logger.Info("running training command", "argv", argv, "outdir", outDir)
	}
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("trainer: training command: %w", err)
	}

	return c.readMetric(outDir)
}

// readMetric extracts the configured metric from metrics.json written
// by the training program into the output directory.
func (c *Command) readMetric(outDir string) (float64, error) {
	path := filepath.Join(outDir, "metrics.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("trainer: read metrics: %w", err)
	}

	var metrics map[string]any
	if err := json.Unmarshal(raw, &metrics); err != nil {
		return 0, fmt.Errorf("trainer: decode metrics: %w", err)
	}

	v, ok := metrics[c.Metric]
	if !ok {
		return 0, fmt.Errorf("trainer: metric %q not found in %s", c.Metric, path)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("trainer: metric %q is not a number: %v", c.Metric, v)
	}
	return f, nil
}
