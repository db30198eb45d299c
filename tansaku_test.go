package tansaku_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tansaku "github.com/ashita-ai/tansaku"
)

const spaceJSON = `[
  {"type": "loguniform", "keyword": {"name": "lr", "low": 1e-5, "high": 1e-1}},
  {"type": "int", "keyword": {"name": "num_layers", "low": 1, "high": 4}}
]`

func TestOptimizeEndToEnd(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var sampled []float64

	app, err := tansaku.New(
		tansaku.WithStudy("e2e"),
		tansaku.WithStorageURL("memory://"),
		tansaku.WithSearchSpace([]byte(spaceJSON)),
		tansaku.WithBaseConfig(map[string]any{"epochs": 2}),
		tansaku.WithOutputRoot(t.TempDir()),
		tansaku.WithNTrials(5),
		tansaku.WithSeed(42),
		tansaku.WithTrainer(tansaku.TrainerFunc(func(_ context.Context, cfg map[string]any, _ string, _ tansaku.ReportFunc) (float64, error) {
			lr := cfg["lr"].(float64)
			mu.Lock()
			sampled = append(sampled, lr)
			mu.Unlock()
			return lr * 10, nil
		})),
	)
	require.NoError(t, err)
	defer app.Close(ctx)

	require.NoError(t, app.Optimize(ctx))

	best, err := app.BestTrial(ctx)
	require.NoError(t, err)
	assert.Equal(t, tansaku.StateComplete, best.State)

	require.Len(t, sampled, 5)
	min := sampled[0]
	for _, v := range sampled[1:] {
		if v < min {
			min = v
		}
	}
	assert.Equal(t, min, best.Params["lr"], "minimizing lr*10 selects the smallest sampled lr")
	assert.Equal(t, min*10, best.Value)

	params, err := app.BestParams(ctx)
	require.NoError(t, err)
	assert.Contains(t, tansaku.FormatParams(params), fmt.Sprintf("lr=%v\n", min))
}

func TestBestTrialAllFailed(t *testing.T) {
	ctx := context.Background()

	app, err := tansaku.New(
		tansaku.WithStudy("all-failed"),
		tansaku.WithStorageURL("memory://"),
		tansaku.WithSearchSpace([]byte(spaceJSON)),
		tansaku.WithOutputRoot(t.TempDir()),
		tansaku.WithNTrials(3),
		tansaku.WithTrainer(tansaku.TrainerFunc(func(context.Context, map[string]any, string, tansaku.ReportFunc) (float64, error) {
			return 0, errors.New("diverged")
		})),
	)
	require.NoError(t, err)
	defer app.Close(ctx)

	require.NoError(t, app.Optimize(ctx), "failures are non-fatal by default")

	_, err = app.BestTrial(ctx)
	assert.True(t, errors.Is(err, tansaku.ErrNoCompletedTrial))
}

func TestNewValidation(t *testing.T) {
	trainer := tansaku.TrainerFunc(func(context.Context, map[string]any, string, tansaku.ReportFunc) (float64, error) {
		return 0, nil
	})

	_, err := tansaku.New(
		tansaku.WithStorageURL("memory://"),
		tansaku.WithSearchSpace([]byte(spaceJSON)),
		tansaku.WithTrainer(trainer),
	)
	require.Error(t, err, "study name is required")

	_, err = tansaku.New(
		tansaku.WithStudy("s"),
		tansaku.WithStorageURL("memory://"),
		tansaku.WithTrainer(trainer),
	)
	require.Error(t, err, "search space is required")

	_, err = tansaku.New(
		tansaku.WithStudy("s"),
		tansaku.WithStorageURL("memory://"),
		tansaku.WithSearchSpace([]byte(spaceJSON)),
		tansaku.WithTrainer(trainer),
		tansaku.WithSampler("simulated-annealing", nil),
	)
	require.Error(t, err, "unknown sampler strategy is rejected up front")
}

// The CLI loads .env; the library constructor must not, so embedding a
// study in a process with an unrelated .env in its working directory
// stays side-effect free.
func TestNewDoesNotLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TANSAKU_STUDY=from-dotenv\n"), 0o644))
	t.Chdir(dir)

	_, err := tansaku.New(
		tansaku.WithStorageURL("memory://"),
		tansaku.WithSearchSpace([]byte(spaceJSON)),
		tansaku.WithTrainer(tansaku.TrainerFunc(func(context.Context, map[string]any, string, tansaku.ReportFunc) (float64, error) {
			return 0, nil
		})),
	)
	require.Error(t, err, "the .env study name must not leak into the config")
	assert.Contains(t, err.Error(), "study name")
}

func TestBestParamsAcrossProcessBoundary(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "study.db")

	app, err := tansaku.New(
		tansaku.WithStudy("shared"),
		tansaku.WithStorageURL(url),
		tansaku.WithSearchSpace([]byte(spaceJSON)),
		tansaku.WithOutputRoot(t.TempDir()),
		tansaku.WithNTrials(3),
		tansaku.WithTrainer(tansaku.TrainerFunc(func(_ context.Context, cfg map[string]any, _ string, _ tansaku.ReportFunc) (float64, error) {
			return cfg["lr"].(float64), nil
		})),
	)
	require.NoError(t, err)
	require.NoError(t, app.Optimize(ctx))
	require.NoError(t, app.Close(ctx))

	// A fresh handle on the same storage sees the finished study.
	params, err := tansaku.BestParams(ctx, url, "shared")
	require.NoError(t, err)
	assert.Contains(t, params, "lr")
	assert.Contains(t, params, "num_layers")

	_, err = tansaku.BestParams(ctx, url, "missing")
	require.Error(t, err)
}
