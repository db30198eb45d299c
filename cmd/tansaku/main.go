package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	tansaku "github.com/ashita-ai/tansaku"
	"github.com/ashita-ai/tansaku/internal/trainer"
)

// version is set at build time via -ldflags.
var version = "dev"

const usage = `usage:
  tansaku run -config <path> -hparams <path> -out <dir> [flags] -- <training command...>
  tansaku best-params -study <name> [-storage <url>]

The training command may use {config} and {outdir} placeholders; after
it exits, the optimized metric is read from metrics.json in the trial's
output directory.`

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("TANSAKU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runOptimize(ctx, logger, os.Args[2:])
	case "best-params":
		err = runBestParams(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n%s\n", os.Args[1], usage)
		return 2
	}
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// optunaConfig mirrors the sampler/pruner selection document:
// {"sampler": {"type": ..., "keyword": {...}}, "pruner": {...}}.
type optunaConfig struct {
	Sampler *strategyConfig `json:"sampler"`
	Pruner  *strategyConfig `json:"pruner"`
}

type strategyConfig struct {
	Type    string         `json:"type"`
	Keyword map[string]any `json:"keyword"`
}

func runOptimize(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		configPath   = fs.String("config", "", "base training configuration file (JSON)")
		hparamsPath  = fs.String("hparams", "", "search space descriptor file (JSON)")
		optunaPath   = fs.String("optuna-config", "", "sampler/pruner selection file (JSON, optional)")
		outDir       = fs.String("out", "", "output root; each trial gets trial_<n> under it")
		studyName    = fs.String("study", "", "study name (default TANSAKU_STUDY)")
		storageURL   = fs.String("storage", "", "storage URL (default TANSAKU_STORAGE_URL or sqlite://tansaku.db)")
		direction    = fs.String("direction", "", "minimize or maximize (default minimize)")
		nTrials      = fs.Int("n-trials", 0, "trial budget (default 50)")
		timeout      = fs.Duration("timeout", 0, "bound on when trials may start, e.g. 2h")
		nJobs        = fs.Int("n-jobs", 0, "concurrent workers (default 1)")
		metric       = fs.String("metric", "", "metric read from metrics.json (default best_validation_loss)")
		loadIfExists = fs.Bool("load-if-exists", false, "attach to an existing study of the same name")
		failFast     = fs.Bool("fail-fast", false, "abort the run on the first trial failure")
		seed         = fs.Int64("seed", 0, "sampler seed for reproducible suggestions")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	argv := fs.Args()

	if *configPath == "" || *hparamsPath == "" || *outDir == "" {
		return fmt.Errorf("run: -config, -hparams and -out are required")
	}
	if len(argv) == 0 {
		return fmt.Errorf("run: no training command given after --")
	}

	baseConfig, err := loadJSONMap(*configPath)
	if err != nil {
		return fmt.Errorf("run: base config: %w", err)
	}
	spaceJSON, err := os.ReadFile(*hparamsPath)
	if err != nil {
		return fmt.Errorf("run: hparams: %w", err)
	}

	var oc optunaConfig
	if *optunaPath != "" {
		raw, err := os.ReadFile(*optunaPath)
		if err != nil {
			return fmt.Errorf("run: optuna config: %w", err)
		}
		if err := json.Unmarshal(raw, &oc); err != nil {
			return fmt.Errorf("run: optuna config: %w", err)
		}
	}

	metricName := *metric
	if metricName == "" {
		metricName = os.Getenv("TANSAKU_METRIC")
	}
	if metricName == "" {
		metricName = "best_validation_loss"
	}
	cmdTrainer := &trainer.Command{Argv: argv, Metric: metricName, Logger: logger}

	opts := []tansaku.Option{
		tansaku.WithLogger(logger),
		tansaku.WithVersion(version),
		tansaku.WithSearchSpace(spaceJSON),
		tansaku.WithBaseConfig(baseConfig),
		tansaku.WithOutputRoot(*outDir),
		tansaku.WithTrainer(tansaku.TrainerFunc(
			func(ctx context.Context, cfg map[string]any, outDir string, _ tansaku.ReportFunc) (float64, error) {
				return cmdTrainer.Train(ctx, cfg, outDir, nil)
			},
		)),
	}
	if *studyName != "" {
		opts = append(opts, tansaku.WithStudy(*studyName))
	}
	if *storageURL != "" {
		opts = append(opts, tansaku.WithStorageURL(*storageURL))
	}
	if *direction != "" {
		opts = append(opts, tansaku.WithDirection(*direction))
	}
	if *nTrials != 0 {
		opts = append(opts, tansaku.WithNTrials(*nTrials))
	}
	if *timeout != 0 {
		opts = append(opts, tansaku.WithTimeout(*timeout))
	}
	if *nJobs != 0 {
		opts = append(opts, tansaku.WithNJobs(*nJobs))
	}
	if *loadIfExists {
		opts = append(opts, tansaku.WithLoadIfExists())
	}
	if *failFast {
		opts = append(opts, tansaku.WithFailFast())
	}
	if *seed != 0 {
		opts = append(opts, tansaku.WithSeed(*seed))
	}
	if oc.Sampler != nil {
		opts = append(opts, tansaku.WithSampler(oc.Sampler.Type, oc.Sampler.Keyword))
	}
	if oc.Pruner != nil {
		opts = append(opts, tansaku.WithPruner(oc.Pruner.Type, oc.Pruner.Keyword))
	}

	app, err := tansaku.New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := app.Close(closeCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := app.Optimize(ctx); err != nil {
		return err
	}

	best, err := app.BestTrial(ctx)
	if err != nil {
		return err
	}
	slog.Info("best trial", "trial", best.Number, "value", best.Value)
	fmt.Print(tansaku.FormatParams(best.Params))
	return nil
}

func runBestParams(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("best-params", flag.ExitOnError)
	var (
		studyName  = fs.String("study", "", "study name")
		storageURL = fs.String("storage", "", "storage URL (default TANSAKU_STORAGE_URL or sqlite://tansaku.db)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *studyName == "" {
		return fmt.Errorf("best-params: -study is required")
	}
	url := *storageURL
	if url == "" {
		url = os.Getenv("TANSAKU_STORAGE_URL")
	}
	if url == "" {
		url = "sqlite://tansaku.db"
	}

	params, err := tansaku.BestParams(ctx, url, *studyName)
	if err != nil {
		return err
	}
	fmt.Print(tansaku.FormatParams(params))
	return nil
}

func loadJSONMap(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
