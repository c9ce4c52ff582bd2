// Package storage provides the record store for runs and steps.
//
// Two implementations exist: DB (PostgreSQL via pgxpool) and Memory (an
// in-process store for development mode and tests). Both treat every record
// as an idempotent upsert by ID because the ingest boundary gives no
// cross-batch ordering guarantee: a step_complete event can arrive before or
// after the run_complete event for its owning run.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/xray-ai/xray/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the keyed record store consumed by the ingest and funnel services.
type Store interface {
	// RecordRunCompletion upserts a terminal run snapshot (run_complete or
	// run_failed). On an existing row only status, completed_at, and error
	// are updated: total_cost is accumulated incrementally by AddRunCost and
	// must never be overwritten by a snapshot.
	RecordRunCompletion(ctx context.Context, run model.Run) error

	// RecordStepCompletion upserts a step_complete snapshot. On an existing
	// row it updates outputs, metadata, completed_at, and cost. The created
	// result reports whether a new row was inserted.
	RecordStepCompletion(ctx context.Context, step model.Step) (created bool, err error)

	// RecordStepFailure upserts a step_failed snapshot. On an existing row
	// only error and completed_at are updated.
	RecordStepFailure(ctx context.Context, step model.Step) (created bool, err error)

	// AddRunCost increments a run's total_cost. A missing run is not an
	// error: the step may have been ingested before its run's terminal
	// event, in which case the increment is lost (eventual invariant).
	AddRunCost(ctx context.Context, runID uuid.UUID, delta float64) error

	// GetRun retrieves a run by ID. Returns ErrNotFound if absent.
	GetRun(ctx context.Context, id uuid.UUID) (model.Run, error)

	// ListRuns returns the most recently started runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// ListStepsByRun returns all steps for a run ordered by started_at
	// ascending. A run with no steps yields an empty slice, not an error.
	ListStepsByRun(ctx context.Context, runID uuid.UUID) ([]model.Step, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context)
}
