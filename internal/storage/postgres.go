package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/tansaku/internal/model"
)

const (
	pgMaxRetries = 10
	pgBaseDelay  = 50 * time.Millisecond
)

// Postgres is the pgx-backed Store for networked deployments where
// several orchestrator processes share one study.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// openPostgres creates a connection pool, verifies connectivity and
// applies pending migrations.
func openPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse postgres DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	p := &Postgres{pool: pool, logger: logger}
	if err := p.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// isPgRetriable returns true for error codes indicating a transient conflict.
func isPgRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	case "23505": // unique_violation: concurrent trial-number allocation
		return true
	default:
		return false
	}
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateStudy inserts a new study record.
func (p *Postgres) CreateStudy(ctx context.Context, name string, direction model.Direction, considerPruned bool) (model.Study, error) {
	var st model.Study
	err := p.pool.QueryRow(ctx,
		`INSERT INTO studies (name, direction, consider_pruned)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, direction, consider_pruned, created_at`,
		name, string(direction), considerPruned,
	).Scan(&st.ID, &st.Name, &st.Direction, &st.ConsiderPruned, &st.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return model.Study{}, fmt.Errorf("%w: %q", ErrDuplicateStudy, name)
		}
		return model.Study{}, fmt.Errorf("storage: create study: %w", err)
	}
	return st, nil
}

// GetStudy loads a study by name.
func (p *Postgres) GetStudy(ctx context.Context, name string) (model.Study, error) {
	var st model.Study
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, direction, consider_pruned, created_at FROM studies WHERE name = $1`, name,
	).Scan(&st.ID, &st.Name, &st.Direction, &st.ConsiderPruned, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Study{}, fmt.Errorf("%w: study %q", ErrNotFound, name)
		}
		return model.Study{}, fmt.Errorf("storage: get study: %w", err)
	}
	return st, nil
}

// BeginTrial allocates the next trial number inside one insert-select
// statement. Two workers racing for the same number collide on the
// primary key; the loser retries with backoff until it wins a fresh
// number. No numbers are skipped and none are handed out twice.
func (p *Postgres) BeginTrial(ctx context.Context, studyID int64, params map[string]any, workerID string) (model.Trial, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return model.Trial{}, fmt.Errorf("storage: encode params: %w", err)
	}

	var t model.Trial
	err = WithRetry(ctx, pgMaxRetries, pgBaseDelay, isPgRetriable, func() error {
		return p.pool.QueryRow(ctx,
			`INSERT INTO trials (study_id, number, state, params, worker_id)
			 SELECT $1, COALESCE(MAX(number), -1) + 1, $2, $3, $4 FROM trials WHERE study_id = $1
			 RETURNING number, created_at`,
			studyID, string(model.TrialRunning), raw, workerID,
		).Scan(&t.Number, &t.CreatedAt)
	})
	if err != nil {
		return model.Trial{}, fmt.Errorf("storage: begin trial: %w", err)
	}

	t.StudyID = studyID
	t.Params = params
	t.State = model.TrialRunning
	t.WorkerID = workerID
	return t, nil
}

// AddObservation appends one intermediate report for a RUNNING trial.
func (p *Postgres) AddObservation(ctx context.Context, studyID, number int64, step int, value float64) error {
	return WithRetry(ctx, pgMaxRetries, pgBaseDelay, isPgRetriable, func() error {
		tag, err := p.pool.Exec(ctx,
			`INSERT INTO trial_values (study_id, number, step, value)
			 SELECT $1, $2, $3, $4
			 WHERE EXISTS (SELECT 1 FROM trials WHERE study_id = $1 AND number = $2 AND state = $5)`,
			studyID, number, step, value, string(model.TrialRunning),
		)
		if err != nil {
			return fmt.Errorf("storage: add observation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: trial %d of study %d", ErrTrialNotRunning, number, studyID)
		}
		return nil
	})
}

// GetTrial loads one trial with its intermediate values.
func (p *Postgres) GetTrial(ctx context.Context, studyID, number int64) (model.Trial, error) {
	var (
		t   model.Trial
		raw []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT study_id, number, state, params, final_value, worker_id, created_at, finished_at
		 FROM trials WHERE study_id = $1 AND number = $2`, studyID, number,
	).Scan(&t.StudyID, &t.Number, &t.State, &raw, &t.FinalValue, &t.WorkerID, &t.CreatedAt, &t.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Trial{}, fmt.Errorf("%w: trial %d of study %d", ErrNotFound, number, studyID)
		}
		return model.Trial{}, fmt.Errorf("storage: get trial: %w", err)
	}
	if err := json.Unmarshal(raw, &t.Params); err != nil {
		return model.Trial{}, fmt.Errorf("storage: decode params: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT step, value FROM trial_values WHERE study_id = $1 AND number = $2 ORDER BY step`,
		studyID, number,
	)
	if err != nil {
		return model.Trial{}, fmt.Errorf("storage: get observations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o model.Observation
		if err := rows.Scan(&o.Step, &o.Value); err != nil {
			return model.Trial{}, fmt.Errorf("storage: scan observation: %w", err)
		}
		t.Intermediate = append(t.Intermediate, o)
	}
	return t, rows.Err()
}

// ListTrials returns all trials of a study in number order.
func (p *Postgres) ListTrials(ctx context.Context, studyID int64) ([]model.Trial, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT study_id, number, state, params, final_value, worker_id, created_at, finished_at
		 FROM trials WHERE study_id = $1 ORDER BY number`, studyID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list trials: %w", err)
	}
	defer rows.Close()

	var trials []model.Trial
	byNumber := make(map[int64]int)
	for rows.Next() {
		var (
			t   model.Trial
			raw []byte
		)
		if err := rows.Scan(&t.StudyID, &t.Number, &t.State, &raw, &t.FinalValue, &t.WorkerID, &t.CreatedAt, &t.FinishedAt); err != nil {
			return nil, fmt.Errorf("storage: scan trial: %w", err)
		}
		if err := json.Unmarshal(raw, &t.Params); err != nil {
			return nil, fmt.Errorf("storage: decode params: %w", err)
		}
		byNumber[t.Number] = len(trials)
		trials = append(trials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := p.pool.Query(ctx,
		`SELECT number, step, value FROM trial_values WHERE study_id = $1 ORDER BY number, step`, studyID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list observations: %w", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var (
			number int64
			o      model.Observation
		)
		if err := vrows.Scan(&number, &o.Step, &o.Value); err != nil {
			return nil, fmt.Errorf("storage: scan observation: %w", err)
		}
		if i, ok := byNumber[number]; ok {
			trials[i].Intermediate = append(trials[i].Intermediate, o)
		}
	}
	return trials, vrows.Err()
}

// FinishTrial transitions a RUNNING trial to a terminal state. The
// state guard in the UPDATE makes invalid transitions visible as zero
// affected rows.
func (p *Postgres) FinishTrial(ctx context.Context, studyID, number int64, state model.TrialState, finalValue *float64) error {
	if !state.Terminal() {
		return fmt.Errorf("storage: %q is not a terminal state", state)
	}
	return WithRetry(ctx, pgMaxRetries, pgBaseDelay, isPgRetriable, func() error {
		tag, err := p.pool.Exec(ctx,
			`UPDATE trials SET state = $1, final_value = $2, finished_at = now()
			 WHERE study_id = $3 AND number = $4 AND state = $5`,
			string(state), finalValue, studyID, number, string(model.TrialRunning),
		)
		if err != nil {
			return fmt.Errorf("storage: finish trial: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: trial %d of study %d", ErrTrialNotRunning, number, studyID)
		}
		return nil
	})
}

// Close shuts down the connection pool.
func (p *Postgres) Close(context.Context) error {
	p.pool.Close()
	return nil
}
