package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/xray-ai/xray/internal/model"
)

// RecordStepCompletion upserts a step_complete snapshot. On conflict only
// the fields a completion legitimately changes are updated. The returned
// flag reports whether a new row was inserted (xmax = 0 on a fresh tuple),
// which the ingest service uses to accumulate run cost exactly once.
func (db *DB) RecordStepCompletion(ctx context.Context, step model.Step) (bool, error) {
	var created bool
	err := db.pool.QueryRow(ctx,
		`INSERT INTO steps (id, run_id, name, type, inputs, outputs, metadata, reasoning, cost, started_at, completed_at, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			outputs = EXCLUDED.outputs,
			metadata = EXCLUDED.metadata,
			completed_at = EXCLUDED.completed_at,
			cost = EXCLUDED.cost
		 RETURNING (xmax = 0)`,
		step.ID, step.RunID, step.Name, string(step.Type),
		orEmpty(step.Inputs), orEmpty(step.Outputs), orEmpty(step.Metadata),
		step.Reasoning, step.Cost, step.StartedAt, step.CompletedAt, step.Error,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("storage: record step completion: %w", err)
	}
	return created, nil
}

// RecordStepFailure upserts a step_failed snapshot. Existing rows only gain
// the error text and completion timestamp.
func (db *DB) RecordStepFailure(ctx context.Context, step model.Step) (bool, error) {
	var created bool
	err := db.pool.QueryRow(ctx,
		`INSERT INTO steps (id, run_id, name, type, inputs, outputs, metadata, reasoning, cost, started_at, completed_at, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
		 RETURNING (xmax = 0)`,
		step.ID, step.RunID, step.Name, string(step.Type),
		orEmpty(step.Inputs), orEmpty(step.Outputs), orEmpty(step.Metadata),
		step.Reasoning, step.Cost, step.StartedAt, step.CompletedAt, step.Error,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("storage: record step failure: %w", err)
	}
	return created, nil
}

// ListStepsByRun returns all steps for a run ordered by started_at ascending.
func (db *DB) ListStepsByRun(ctx context.Context, runID uuid.UUID) ([]model.Step, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, name, type, inputs, outputs, metadata, reasoning, cost, started_at, completed_at, error, created_at
		 FROM steps WHERE run_id = $1 ORDER BY started_at ASC, created_at ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list steps: %w", err)
	}
	defer rows.Close()

	steps := []model.Step{}
	for rows.Next() {
		var s model.Step
		if err := rows.Scan(
			&s.ID, &s.RunID, &s.Name, &s.Type, &s.Inputs, &s.Outputs, &s.Metadata,
			&s.Reasoning, &s.Cost, &s.StartedAt, &s.CompletedAt, &s.Error, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
