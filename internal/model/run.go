// Package model defines the core domain types for X-Ray.
//
// All types correspond directly to database rows and ingest event payloads.
// Timestamps are UTC. Wire values (status, step type, event kind) match the
// strings produced by the SDK.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// Run is one end-to-end execution of an instrumented pipeline.
// TotalCost is accumulated server-side as step_complete events are ingested;
// it is never taken from a run snapshot once the row exists.
type Run struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Status      RunStatus      `json:"status"`
	TotalCost   float64        `json:"total_cost"`
	Tags        map[string]any `json:"tags"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       *string        `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
