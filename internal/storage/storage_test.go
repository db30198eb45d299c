package storage_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tansaku/internal/model"
	"github.com/ashita-ai/tansaku/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// backends returns a named constructor per Store implementation so the
// whole conformance suite runs against each.
func backends(t *testing.T) map[string]func(t *testing.T) storage.Store {
	return map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store {
			return storage.NewMemory()
		},
		"sqlite": func(t *testing.T) storage.Store {
			path := filepath.Join(t.TempDir(), "test.db")
			st, err := storage.Open(context.Background(), "sqlite://"+path, discardLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close(context.Background()) })
			return st
		},
	}
}

func TestStudyLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)

			created, err := st.CreateStudy(ctx, "mnist", model.DirectionMinimize, false)
			require.NoError(t, err)
			assert.Equal(t, "mnist", created.Name)
			assert.Equal(t, model.DirectionMinimize, created.Direction)

			_, err = st.CreateStudy(ctx, "mnist", model.DirectionMinimize, false)
			require.Error(t, err)
			assert.True(t, errors.Is(err, storage.ErrDuplicateStudy))

			loaded, err := st.GetStudy(ctx, "mnist")
			require.NoError(t, err)
			assert.Equal(t, created.ID, loaded.ID)

			_, err = st.GetStudy(ctx, "nope")
			assert.True(t, errors.Is(err, storage.ErrNotFound))
		})
	}
}

func TestTrialLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)

			study, err := st.CreateStudy(ctx, "s", model.DirectionMinimize, false)
			require.NoError(t, err)

			tr, err := st.BeginTrial(ctx, study.ID, map[string]any{"lr": 0.01}, "worker-1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), tr.Number)
			assert.Equal(t, model.TrialRunning, tr.State)

			require.NoError(t, st.AddObservation(ctx, study.ID, tr.Number, 1, 0.9))
			require.NoError(t, st.AddObservation(ctx, study.ID, tr.Number, 2, 0.7))

			v := 0.7
			require.NoError(t, st.FinishTrial(ctx, study.ID, tr.Number, model.TrialComplete, &v))

			got, err := st.GetTrial(ctx, study.ID, tr.Number)
			require.NoError(t, err)
			assert.Equal(t, model.TrialComplete, got.State)
			require.NotNil(t, got.FinalValue)
			assert.Equal(t, 0.7, *got.FinalValue)
			assert.Equal(t, []model.Observation{{Step: 1, Value: 0.9}, {Step: 2, Value: 0.7}}, got.Intermediate)
			assert.Equal(t, 0.01, got.Params["lr"])
			assert.Equal(t, "worker-1", got.WorkerID)
		})
	}
}

func TestFinishTrialInvalidTransitions(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)

			study, err := st.CreateStudy(ctx, "s", model.DirectionMinimize, false)
			require.NoError(t, err)

			v := 1.0

			// Unknown trial.
			err = st.FinishTrial(ctx, study.ID, 42, model.TrialComplete, &v)
			assert.True(t, errors.Is(err, storage.ErrTrialNotRunning), "got %v", err)

			// Already terminal.
			tr, err := st.BeginTrial(ctx, study.ID, map[string]any{}, "w")
			require.NoError(t, err)
			require.NoError(t, st.FinishTrial(ctx, study.ID, tr.Number, model.TrialFailed, nil))
			err = st.FinishTrial(ctx, study.ID, tr.Number, model.TrialComplete, &v)
			assert.True(t, errors.Is(err, storage.ErrTrialNotRunning), "got %v", err)

			// Non-terminal target state is rejected outright.
			tr2, err := st.BeginTrial(ctx, study.ID, map[string]any{}, "w")
			require.NoError(t, err)
			assert.Error(t, st.FinishTrial(ctx, study.ID, tr2.Number, model.TrialRunning, nil))

			// Observations on a finished trial are rejected.
			err = st.AddObservation(ctx, study.ID, tr.Number, 1, 0.5)
			assert.True(t, errors.Is(err, storage.ErrTrialNotRunning), "got %v", err)
		})
	}
}

// N concurrent BeginTrial callers must receive exactly N distinct,
// contiguous numbers with no duplicates and no gaps.
func TestBeginTrialConcurrent(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)

			study, err := st.CreateStudy(ctx, "s", model.DirectionMinimize, false)
			require.NoError(t, err)

			const workers = 8
			const perWorker = 5

			var (
				mu      sync.Mutex
				numbers []int64
				wg      sync.WaitGroup
			)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						tr, err := st.BeginTrial(ctx, study.ID, map[string]any{"w": w}, "worker")
						assert.NoError(t, err)
						mu.Lock()
						numbers = append(numbers, tr.Number)
						mu.Unlock()
					}
				}(w)
			}
			wg.Wait()

			require.Len(t, numbers, workers*perWorker)
			sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
			for i, n := range numbers {
				assert.Equal(t, int64(i), n, "numbers must be contiguous with no duplicates")
			}
		})
	}
}

func TestListTrialsOrdered(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)

			study, err := st.CreateStudy(ctx, "s", model.DirectionMaximize, false)
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				tr, err := st.BeginTrial(ctx, study.ID, map[string]any{"i": i}, "w")
				require.NoError(t, err)
				require.NoError(t, st.AddObservation(ctx, study.ID, tr.Number, 1, float64(i)))
				v := float64(i)
				require.NoError(t, st.FinishTrial(ctx, study.ID, tr.Number, model.TrialComplete, &v))
			}

			trials, err := st.ListTrials(ctx, study.ID)
			require.NoError(t, err)
			require.Len(t, trials, 3)
			for i, tr := range trials {
				assert.Equal(t, int64(i), tr.Number)
				require.Len(t, tr.Intermediate, 1)
				assert.Equal(t, float64(i), tr.Intermediate[0].Value)
			}
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "resume.db")

	st, err := storage.Open(ctx, "sqlite://"+path, discardLogger())
	require.NoError(t, err)
	study, err := st.CreateStudy(ctx, "s", model.DirectionMinimize, false)
	require.NoError(t, err)
	tr, err := st.BeginTrial(ctx, study.ID, map[string]any{"lr": 0.5}, "w")
	require.NoError(t, err)
	v := 1.0
	require.NoError(t, st.FinishTrial(ctx, study.ID, tr.Number, model.TrialComplete, &v))
	require.NoError(t, st.Close(ctx))

	// A fresh handle sees the same study and continues numbering.
	st, err = storage.Open(ctx, "sqlite://"+path, discardLogger())
	require.NoError(t, err)
	defer func() { _ = st.Close(ctx) }()

	loaded, err := st.GetStudy(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, study.ID, loaded.ID)

	tr2, err := st.BeginTrial(ctx, loaded.ID, map[string]any{"lr": 0.1}, "w")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tr2.Number, "numbering continues after reopen")
}

func TestOpenDispatch(t *testing.T) {
	ctx := context.Background()

	st, err := storage.Open(ctx, "memory://", discardLogger())
	require.NoError(t, err)
	_, ok := st.(*storage.Memory)
	assert.True(t, ok)

	_, err = storage.Open(ctx, "", discardLogger())
	require.Error(t, err)

	// A bare path is treated as a sqlite file.
	path := filepath.Join(t.TempDir(), "bare.db")
	st, err = storage.Open(ctx, path, discardLogger())
	require.NoError(t, err)
	require.NoError(t, st.Close(ctx))
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}
