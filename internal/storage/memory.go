package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xray-ai/xray/internal/model"
)

// Memory is an in-process Store for development mode and tests. It applies
// the same upsert semantics as the PostgreSQL implementation.
type Memory struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]model.Run
	steps map[uuid.UUID]model.Step
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:  make(map[uuid.UUID]model.Run),
		steps: make(map[uuid.UUID]model.Step),
	}
}

// RecordRunCompletion upserts a terminal run snapshot, preserving any
// accumulated total_cost on an existing row.
func (m *Memory) RecordRunCompletion(_ context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.runs[run.ID]; ok {
		existing.Status = run.Status
		existing.CompletedAt = run.CompletedAt
		existing.Error = run.Error
		m.runs[run.ID] = existing
		return nil
	}

	if run.Tags == nil {
		run.Tags = map[string]any{}
	}
	run.CreatedAt = time.Now().UTC()
	m.runs[run.ID] = run
	return nil
}

// RecordStepCompletion upserts a step_complete snapshot.
func (m *Memory) RecordStepCompletion(_ context.Context, step model.Step) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.steps[step.ID]; ok {
		existing.Outputs = orEmpty(step.Outputs)
		existing.Metadata = orEmpty(step.Metadata)
		existing.CompletedAt = step.CompletedAt
		existing.Cost = step.Cost
		m.steps[step.ID] = existing
		return false, nil
	}

	m.insertStep(step)
	return true, nil
}

// RecordStepFailure upserts a step_failed snapshot.
func (m *Memory) RecordStepFailure(_ context.Context, step model.Step) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.steps[step.ID]; ok {
		existing.Error = step.Error
		existing.CompletedAt = step.CompletedAt
		m.steps[step.ID] = existing
		return false, nil
	}

	m.insertStep(step)
	return true, nil
}

func (m *Memory) insertStep(step model.Step) {
	step.Inputs = orEmpty(step.Inputs)
	step.Outputs = orEmpty(step.Outputs)
	step.Metadata = orEmpty(step.Metadata)
	step.CreatedAt = time.Now().UTC()
	m.steps[step.ID] = step
}

// AddRunCost increments a run's total_cost; missing runs are ignored.
func (m *Memory) AddRunCost(_ context.Context, runID uuid.UUID, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run, ok := m.runs[runID]; ok {
		run.TotalCost += delta
		m.runs[runID] = run
	}
	return nil
}

// GetRun retrieves a run by ID.
func (m *Memory) GetRun(_ context.Context, id uuid.UUID) (model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	return run, nil
}

// ListRuns returns the most recently started runs, newest first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]model.Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ListStepsByRun returns a run's steps ordered by started_at ascending.
func (m *Memory) ListStepsByRun(_ context.Context, runID uuid.UUID) ([]model.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps := []model.Step{}
	for _, s := range m.steps {
		if s.RunID == runID {
			steps = append(steps, s)
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].StartedAt.Equal(steps[j].StartedAt) {
			return steps[i].CreatedAt.Before(steps[j].CreatedAt)
		}
		return steps[i].StartedAt.Before(steps[j].StartedAt)
	})
	return steps, nil
}

// Ping always succeeds.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close(_ context.Context) {}
