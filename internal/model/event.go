package model

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies what an ingest event payload contains.
type EventKind string

const (
	EventRunComplete  EventKind = "run_complete"
	EventRunFailed    EventKind = "run_failed"
	EventStepComplete EventKind = "step_complete"
	EventStepFailed   EventKind = "step_failed"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventRunComplete, EventRunFailed, EventStepComplete, EventStepFailed:
		return true
	}
	return false
}

// IsRunEvent reports whether the payload is a Run snapshot.
func (k EventKind) IsRunEvent() bool {
	return k == EventRunComplete || k == EventRunFailed
}

// IngestEvent is the envelope crossing the network boundary. The payload is
// a Run or Step snapshot depending on the kind, kept raw until the ingest
// service dispatches on kind.
type IngestEvent struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Run decodes the payload as a Run snapshot.
func (e IngestEvent) Run() (Run, error) {
	var run Run
	if err := json.Unmarshal(e.Payload, &run); err != nil {
		return Run{}, fmt.Errorf("model: decode %s payload: %w", e.Kind, err)
	}
	return run, nil
}

// Step decodes the payload as a Step snapshot.
func (e IngestEvent) Step() (Step, error) {
	var step Step
	if err := json.Unmarshal(e.Payload, &step); err != nil {
		return Step{}, fmt.Errorf("model: decode %s payload: %w", e.Kind, err)
	}
	return step, nil
}

// IngestRequest is the body of POST /v1/ingest.
type IngestRequest struct {
	Events []IngestEvent `json:"events"`
}

// IngestResponse acknowledges a processed batch.
type IngestResponse struct {
	Status    string `json:"status"`
	Processed int    `json:"processed"`
}
