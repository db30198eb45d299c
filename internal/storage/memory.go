package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashita-ai/tansaku/internal/model"
)

// Memory is an in-process Store. It backs tests and ephemeral studies;
// nothing survives the process. All operations are guarded by one
// mutex, which also makes BeginTrial trivially atomic.
type Memory struct {
	mu          sync.Mutex
	nextStudyID int64
	studies     map[string]model.Study
	trials      map[int64][]model.Trial
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextStudyID: 1,
		studies:     make(map[string]model.Study),
		trials:      make(map[int64][]model.Trial),
	}
}

// CreateStudy inserts a new study record.
func (m *Memory) CreateStudy(_ context.Context, name string, direction model.Direction, considerPruned bool) (model.Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.studies[name]; ok {
		return model.Study{}, fmt.Errorf("%w: %q", ErrDuplicateStudy, name)
	}
	st := model.Study{
		ID:             m.nextStudyID,
		Name:           name,
		Direction:      direction,
		ConsiderPruned: considerPruned,
		CreatedAt:      time.Now().UTC(),
	}
	m.nextStudyID++
	m.studies[name] = st
	return st, nil
}

// GetStudy loads a study by name.
func (m *Memory) GetStudy(_ context.Context, name string) (model.Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.studies[name]
	if !ok {
		return model.Study{}, fmt.Errorf("%w: study %q", ErrNotFound, name)
	}
	return st, nil
}

// BeginTrial allocates the next trial number and records it RUNNING.
func (m *Memory) BeginTrial(_ context.Context, studyID int64, params map[string]any, workerID string) (model.Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.studyExists(studyID) {
		return model.Trial{}, fmt.Errorf("%w: study id %d", ErrNotFound, studyID)
	}
	t := model.Trial{
		StudyID:   studyID,
		Number:    int64(len(m.trials[studyID])),
		Params:    cloneParams(params),
		State:     model.TrialRunning,
		WorkerID:  workerID,
		CreatedAt: time.Now().UTC(),
	}
	m.trials[studyID] = append(m.trials[studyID], t)
	return t, nil
}

// AddObservation appends one intermediate report.
func (m *Memory) AddObservation(_ context.Context, studyID, number int64, step int, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.running(studyID, number)
	if err != nil {
		return err
	}
	t.Intermediate = append(t.Intermediate, model.Observation{Step: step, Value: value})
	return nil
}

// GetTrial loads one trial.
func (m *Memory) GetTrial(_ context.Context, studyID, number int64) (model.Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.trials[studyID]
	if number < 0 || number >= int64(len(ts)) {
		return model.Trial{}, fmt.Errorf("%w: trial %d of study %d", ErrNotFound, number, studyID)
	}
	return cloneTrial(ts[number]), nil
}

// ListTrials returns all trials in number order.
func (m *Memory) ListTrials(_ context.Context, studyID int64) ([]model.Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.trials[studyID]
	out := make([]model.Trial, len(ts))
	for i, t := range ts {
		out[i] = cloneTrial(t)
	}
	return out, nil
}

// FinishTrial transitions a RUNNING trial to a terminal state.
func (m *Memory) FinishTrial(_ context.Context, studyID, number int64, state model.TrialState, finalValue *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !state.Terminal() {
		return fmt.Errorf("storage: %q is not a terminal state", state)
	}
	t, err := m.running(studyID, number)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.State = state
	t.FinishedAt = &now
	if finalValue != nil {
		v := *finalValue
		t.FinalValue = &v
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close(context.Context) error { return nil }

func (m *Memory) studyExists(id int64) bool {
	for _, st := range m.studies {
		if st.ID == id {
			return true
		}
	}
	return false
}

// running returns a mutable pointer to a trial that must be RUNNING.
func (m *Memory) running(studyID, number int64) (*model.Trial, error) {
	ts := m.trials[studyID]
	if number < 0 || number >= int64(len(ts)) {
		return nil, fmt.Errorf("%w: trial %d of study %d", ErrTrialNotRunning, number, studyID)
	}
	t := &ts[number]
	if t.State != model.TrialRunning {
		return nil, fmt.Errorf("%w: trial %d is %s", ErrTrialNotRunning, number, t.State)
	}
	return t, nil
}

func cloneParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func cloneTrial(t model.Trial) model.Trial {
	c := t
	c.Params = cloneParams(t.Params)
	c.Intermediate = append([]model.Observation(nil), t.Intermediate...)
	if t.FinalValue != nil {
		v := *t.FinalValue
		c.FinalValue = &v
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		c.FinishedAt = &ts
	}
	return c
}
