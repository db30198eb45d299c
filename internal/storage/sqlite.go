package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver

	"github.com/ashita-ai/tansaku/internal/model"
)

const (
	sqliteMaxRetries = 10
	sqliteBaseDelay  = 20 * time.Millisecond
)

// SQLite is the embedded-file Store. Several processes on one host can
// share the file: SQLite serializes writers, and the busy timeout plus
// bounded retry absorb lock contention.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// openSQLite opens (creating if needed) the database file at path and
// ensures the schema exists.
func openSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: empty sqlite path")
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	s := &SQLite{db: db, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS studies (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			name            TEXT NOT NULL UNIQUE,
			direction       TEXT NOT NULL,
			consider_pruned INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trials (
			study_id    INTEGER NOT NULL REFERENCES studies(id) ON DELETE CASCADE,
			number      INTEGER NOT NULL,
			state       TEXT NOT NULL,
			params      TEXT NOT NULL,
			final_value REAL,
			worker_id   TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			PRIMARY KEY (study_id, number)
		);
		CREATE TABLE IF NOT EXISTS trial_values (
			study_id    INTEGER NOT NULL,
			number      INTEGER NOT NULL,
			step        INTEGER NOT NULL,
			value       REAL NOT NULL,
			reported_at TIMESTAMP NOT NULL,
			PRIMARY KEY (study_id, number, step)
		);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: ensure sqlite schema: %w", err)
	}
	return nil
}

// isSQLiteRetriable matches lock contention and the primary-key race
// during trial-number allocation. Duplicate-study detection happens
// before retrying, so constraint errors here are only allocation races.
func isSQLiteRetriable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "constraint failed")
}

func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// CreateStudy inserts a new study record.
func (s *SQLite) CreateStudy(ctx context.Context, name string, direction model.Direction, considerPruned bool) (model.Study, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO studies (name, direction, consider_pruned, created_at) VALUES (?, ?, ?, ?)`,
		name, string(direction), considerPruned, now,
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return model.Study{}, fmt.Errorf("%w: %q", ErrDuplicateStudy, name)
		}
		return model.Study{}, fmt.Errorf("storage: create study: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Study{}, fmt.Errorf("storage: create study: %w", err)
	}
	return model.Study{ID: id, Name: name, Direction: direction, ConsiderPruned: considerPruned, CreatedAt: now}, nil
}

// GetStudy loads a study by name.
func (s *SQLite) GetStudy(ctx context.Context, name string) (model.Study, error) {
	var st model.Study
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, direction, consider_pruned, created_at FROM studies WHERE name = ?`, name,
	).Scan(&st.ID, &st.Name, &st.Direction, &st.ConsiderPruned, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Study{}, fmt.Errorf("%w: study %q", ErrNotFound, name)
		}
		return model.Study{}, fmt.Errorf("storage: get study: %w", err)
	}
	return st, nil
}

// BeginTrial allocates the next trial number with the same
// insert-select-retry pattern as the Postgres store. SQLite admits one
// writer at a time, so the primary-key race only occurs between
// separate processes sharing the file.
func (s *SQLite) BeginTrial(ctx context.Context, studyID int64, params map[string]any, workerID string) (model.Trial, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return model.Trial{}, fmt.Errorf("storage: encode params: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM studies WHERE id = ?)`, studyID,
	).Scan(&exists); err != nil {
		return model.Trial{}, fmt.Errorf("storage: begin trial: %w", err)
	}
	if !exists {
		return model.Trial{}, fmt.Errorf("%w: study id %d", ErrNotFound, studyID)
	}

	now := time.Now().UTC()
	var number int64
	err = WithRetry(ctx, sqliteMaxRetries, sqliteBaseDelay, isSQLiteRetriable, func() error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO trials (study_id, number, state, params, worker_id, created_at)
			 SELECT ?, COALESCE(MAX(number), -1) + 1, ?, ?, ?, ? FROM trials WHERE study_id = ?1
			 RETURNING number`,
			studyID, string(model.TrialRunning), string(raw), workerID, now,
		).Scan(&number)
	})
	if err != nil {
		return model.Trial{}, fmt.Errorf("storage: begin trial: %w", err)
	}

	return model.Trial{
		StudyID:   studyID,
		Number:    number,
		Params:    params,
		State:     model.TrialRunning,
		WorkerID:  workerID,
		CreatedAt: now,
	}, nil
}

// AddObservation appends one intermediate report for a RUNNING trial.
func (s *SQLite) AddObservation(ctx context.Context, studyID, number int64, step int, value float64) error {
	return WithRetry(ctx, sqliteMaxRetries, sqliteBaseDelay, func(err error) bool {
		return err != nil && !errors.Is(err, ErrTrialNotRunning) && isSQLiteRetriable(err)
	}, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO trial_values (study_id, number, step, value, reported_at)
			 SELECT ?, ?, ?, ?, ?
			 WHERE EXISTS (SELECT 1 FROM trials WHERE study_id = ?1 AND number = ?2 AND state = ?)`,
			studyID, number, step, value, time.Now().UTC(), string(model.TrialRunning),
		)
		if err != nil {
			return fmt.Errorf("storage: add observation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("storage: add observation: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: trial %d of study %d", ErrTrialNotRunning, number, studyID)
		}
		return nil
	})
}

// GetTrial loads one trial with its intermediate values.
func (s *SQLite) GetTrial(ctx context.Context, studyID, number int64) (model.Trial, error) {
	t, err := s.scanTrial(s.db.QueryRowContext(ctx,
		`SELECT study_id, number, state, params, final_value, worker_id, created_at, finished_at
		 FROM trials WHERE study_id = ? AND number = ?`, studyID, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Trial{}, fmt.Errorf("%w: trial %d of study %d", ErrNotFound, number, studyID)
		}
		return model.Trial{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, value FROM trial_values WHERE study_id = ? AND number = ? ORDER BY step`,
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
func (s *SQLite) ListTrials(ctx context.Context, studyID int64) ([]model.Trial, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT study_id, number, state, params, final_value, worker_id, created_at, finished_at
		 FROM trials WHERE study_id = ? ORDER BY number`, studyID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list trials: %w", err)
	}
	defer rows.Close()

	var trials []model.Trial
	byNumber := make(map[int64]int)
	for rows.Next() {
		t, err := s.scanTrial(rows)
		if err != nil {
			return nil, err
		}
		byNumber[t.Number] = len(trials)
		trials = append(trials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := s.db.QueryContext(ctx,
		`SELECT number, step, value FROM trial_values WHERE study_id = ? ORDER BY number, step`, studyID,
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

// FinishTrial transitions a RUNNING trial to a terminal state.
func (s *SQLite) FinishTrial(ctx context.Context, studyID, number int64, state model.TrialState, finalValue *float64) error {
	if !state.Terminal() {
		return fmt.Errorf("storage: %q is not a terminal state", state)
	}
	return WithRetry(ctx, sqliteMaxRetries, sqliteBaseDelay, func(err error) bool {
		return err != nil && !errors.Is(err, ErrTrialNotRunning) && isSQLiteRetriable(err)
	}, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE trials SET state = ?, final_value = ?, finished_at = ?
			 WHERE study_id = ? AND number = ? AND state = ?`,
			string(state), finalValue, time.Now().UTC(), studyID, number, string(model.TrialRunning),
		)
		if err != nil {
			return fmt.Errorf("storage: finish trial: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("storage: finish trial: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: trial %d of study %d", ErrTrialNotRunning, number, studyID)
		}
		return nil
	})
}

// Close closes the database file.
func (s *SQLite) Close(context.Context) error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLite) scanTrial(row scanner) (model.Trial, error) {
	var (
		t   model.Trial
		raw string
	)
	if err := row.Scan(&t.StudyID, &t.Number, &t.State, &raw, &t.FinalValue, &t.WorkerID, &t.CreatedAt, &t.FinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Trial{}, err
		}
		return model.Trial{}, fmt.Errorf("storage: scan trial: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &t.Params); err != nil {
		return model.Trial{}, fmt.Errorf("storage: decode params: %w", err)
	}
	return t, nil
}
