// Package tansaku is the public API for embedding the hyperparameter
// search orchestrator.
//
// Consumers import this package to run studies in-process with their
// own training code instead of shelling out through the CLI:
//
//	app, err := tansaku.New(
//	    tansaku.WithStudy("lm-sweep"),
//	    tansaku.WithSearchSpace(hparamsJSON),
//	    tansaku.WithTrainer(myTrainer),
//	    tansaku.WithNTrials(100),
//	)
//	if err != nil { ... }
//	if err := app.Optimize(ctx); err != nil { ... }
//	best, err := app.BestTrial(ctx)
//
// The import graph enforces a strict no-cycle rule: tansaku (root)
// imports internal/*, but internal/* never imports tansaku (root).
// Public types (Trial, Trainer) are standalone with no internal
// imports; conversion helpers live here because this is the only file
// that sees both sides of the boundary.
package tansaku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashita-ai/tansaku/internal/config"
	"github.com/ashita-ai/tansaku/internal/executor"
	"github.com/ashita-ai/tansaku/internal/exporter"
	"github.com/ashita-ai/tansaku/internal/model"
	"github.com/ashita-ai/tansaku/internal/orchestrator"
	"github.com/ashita-ai/tansaku/internal/pruner"
	"github.com/ashita-ai/tansaku/internal/sampler"
	"github.com/ashita-ai/tansaku/internal/space"
	"github.com/ashita-ai/tansaku/internal/storage"
	"github.com/ashita-ai/tansaku/internal/study"
	"github.com/ashita-ai/tansaku/internal/telemetry"
	"github.com/ashita-ai/tansaku/internal/trainer"
)

// ErrNoCompletedTrial is returned by BestTrial and BestParams when no
// trial of the study has reached an eligible terminal state.
var ErrNoCompletedTrial = errors.New("tansaku: no completed trial")

// App is one configured optimization run. Construct with New(), drive
// with Optimize(), then query BestTrial() and Close().
type App struct {
	cfg          config.Config
	store        storage.Store
	study        *study.Study
	orch         *orchestrator.Orchestrator
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New wires storage, the study, the sampler and the worker pool into a
// ready-to-run App. It does not start any trial — call Optimize().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.storageURL != "" {
		cfg.StorageURL = o.storageURL
	}
	if o.studyName != "" {
		cfg.StudyName = o.studyName
	}
	if o.direction != "" {
		cfg.Direction = o.direction
	}
	if o.nTrials != 0 {
		cfg.NTrials = o.nTrials
	}
	if o.nJobs != 0 {
		cfg.NJobs = o.nJobs
	}
	if o.timeout != 0 {
		cfg.Timeout = o.timeout
	}
	if o.loadIfExists {
		cfg.LoadIfExists = true
	}
	if o.failFast {
		cfg.FailFast = true
	}
	if cfg.StudyName == "" {
		return nil, fmt.Errorf("tansaku: study name is required")
	}
	if o.trainer == nil {
		return nil, fmt.Errorf("tansaku: a trainer is required")
	}
	if len(o.spaceJSON) == 0 {
		return nil, fmt.Errorf("tansaku: a search space is required")
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	direction, err := model.ParseDirection(cfg.Direction)
	if err != nil {
		return nil, fmt.Errorf("tansaku: %w", err)
	}

	searchSpace, err := space.Parse(o.spaceJSON)
	if err != nil {
		return nil, fmt.Errorf("tansaku: %w", err)
	}

	smp, err := sampler.New(&sampler.Config{Type: o.samplerType, Keyword: o.samplerKeyword}, direction, o.seed)
	if err != nil {
		return nil, fmt.Errorf("tansaku: %w", err)
	}
	var prn pruner.Pruner
	if o.prunerType != "" {
		prn, err = pruner.New(&pruner.Config{Type: o.prunerType, Keyword: o.prunerKeyword})
		if err != nil {
			return nil, fmt.Errorf("tansaku: %w", err)
		}
	}

	logger.Info("tansaku starting", "version", version,
		"study", cfg.StudyName, "storage", cfg.StorageURL, "direction", cfg.Direction)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := storage.Open(context.Background(), cfg.StorageURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	st, err := study.CreateOrLoad(context.Background(), study.Params{
		Name:           cfg.StudyName,
		Direction:      direction,
		Store:          store,
		Space:          searchSpace,
		Sampler:        smp,
		Pruner:         prn,
		LoadIfExists:   cfg.LoadIfExists,
		ConsiderPruned: o.considerPruned,
		WorkerID:       uuid.NewString(),
		Logger:         logger,
	})
	if err != nil {
		_ = store.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	metrics, err := telemetry.NewTrialMetrics()
	if err != nil {
		_ = store.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	exec := executor.New(st, &trainerAdapter{t: o.trainer}, executor.Config{
		BaseConfig: o.baseConfig,
		OutputRoot: o.outputRoot,
		FailFatal:  cfg.FailFast,
	}, logger)

	orch := orchestrator.New(st, exec, orchestrator.Config{
		NTrials: cfg.NTrials,
		NJobs:   cfg.NJobs,
		Timeout: cfg.Timeout,
	}, metrics, logger)

	return &App{
		cfg:          cfg,
		store:        store,
		study:        st,
		orch:         orch,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Optimize runs trials until the budget is spent, the timeout passes
// or the context is cancelled. Safe to call once per App.
func (a *App) Optimize(ctx context.Context) error {
	return a.orch.Run(ctx)
}

// BestTrial returns the best terminal trial of the study.
func (a *App) BestTrial(ctx context.Context) (Trial, error) {
	best, err := a.study.Best(ctx)
	if err != nil {
		if errors.Is(err, study.ErrNoCompletedTrial) {
			return Trial{}, ErrNoCompletedTrial
		}
		return Trial{}, err
	}
	return toPublicTrial(best), nil
}

// BestParams returns the best trial's parameters.
func (a *App) BestParams(ctx context.Context) (map[string]any, error) {
	best, err := a.BestTrial(ctx)
	if err != nil {
		return nil, err
	}
	return best.Params, nil
}

// Close releases storage and telemetry resources.
func (a *App) Close(ctx context.Context) error {
	err := a.store.Close(ctx)
	if shutdownErr := a.otelShutdown(ctx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

// BestParams loads a study by name from the given storage URL and
// returns its best parameters, without constructing an App. This is
// what the best-params CLI subcommand calls.
func BestParams(ctx context.Context, storageURL, studyName string) (map[string]any, error) {
	store, err := storage.Open(ctx, storageURL, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	defer func() { _ = store.Close(ctx) }()

	record, err := store.GetStudy(ctx, studyName)
	if err != nil {
		return nil, fmt.Errorf("tansaku: load study %q: %w", studyName, err)
	}

	st, err := study.CreateOrLoad(ctx, study.Params{
		Name:         studyName,
		Direction:    record.Direction,
		Store:        store,
		LoadIfExists: true,
	})
	if err != nil {
		return nil, err
	}

	params, err := exporter.Best(ctx, st)
	if err != nil {
		if errors.Is(err, study.ErrNoCompletedTrial) {
			return nil, fmt.Errorf("%w: study %q", ErrNoCompletedTrial, studyName)
		}
		return nil, err
	}
	return params, nil
}

// FormatParams renders parameters as sorted key=value lines.
func FormatParams(params map[string]any) string {
	return exporter.Format(params)
}

// ── Adapters and converters (this file imports both sides) ────────────

// trainerAdapter wraps a public Trainer to satisfy the internal
// trainer.Trainer interface.
type trainerAdapter struct {
	t Trainer
}

func (a *trainerAdapter) Train(ctx context.Context, cfg map[string]any, outDir string, report trainer.ReportFunc) (float64, error) {
	return a.t.Train(ctx, cfg, outDir, ReportFunc(report))
}

// toPublicTrial converts an internal model.Trial to the public Trial.
func toPublicTrial(t model.Trial) Trial {
	out := Trial{
		Number: t.Number,
		Params: t.Params,
		State:  string(t.State),
	}
	if t.FinalValue != nil {
		out.Value = *t.FinalValue
	}
	return out
}
