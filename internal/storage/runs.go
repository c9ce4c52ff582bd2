package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xray-ai/xray/internal/model"
)

// RecordRunCompletion upserts a terminal run snapshot. The snapshot's
// total_cost is only used on insert; an existing row keeps the value
// accumulated through AddRunCost.
func (db *DB) RecordRunCompletion(ctx context.Context, run model.Run) error {
	tags := run.Tags
	if tags == nil {
		tags = map[string]any{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO runs (id, name, status, total_cost, tags, started_at, completed_at, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			error = EXCLUDED.error`,
		run.ID, run.Name, string(run.Status), run.TotalCost, tags,
		run.StartedAt, run.CompletedAt, run.Error,
	)
	if err != nil {
		return fmt.Errorf("storage: record run completion: %w", err)
	}
	return nil
}

// AddRunCost increments a run's total_cost. Missing runs are ignored: the
// owning run's terminal event may simply not have arrived yet.
func (db *DB) AddRunCost(ctx context.Context, runID uuid.UUID, delta float64) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE runs SET total_cost = total_cost + $1 WHERE id = $2`,
		delta, runID,
	)
	if err != nil {
		return fmt.Errorf("storage: add run cost: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	var run model.Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, status, total_cost, tags, started_at, completed_at, error, created_at
		 FROM runs WHERE id = $1`, id,
	).Scan(
		&run.ID, &run.Name, &run.Status, &run.TotalCost, &run.Tags,
		&run.StartedAt, &run.CompletedAt, &run.Error, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recently started runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, status, total_cost, tags, started_at, completed_at, error, created_at
		 FROM runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Status, &r.TotalCost, &r.Tags,
			&r.StartedAt, &r.CompletedAt, &r.Error, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
