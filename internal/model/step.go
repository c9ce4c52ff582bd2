package model

import (
	"time"

	"github.com/google/uuid"
)

// StepType represents the category of a step within a run.
type StepType string

const (
	StepTypeLLM       StepType = "llm"
	StepTypeRetrieval StepType = "retrieval"
	StepTypeFilter    StepType = "filter"
	StepTypeLogic     StepType = "logic"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeLLM, StepTypeRetrieval, StepTypeFilter, StepTypeLogic:
		return true
	}
	return false
}

// Metadata keys written by the SDK's candidate summarizer and read back
// by the funnel reconstructor.
const (
	MetaTotalCount         = "total_count"
	MetaSurvivorCount      = "survivor_count"
	MetaRejectionHistogram = "rejection_histogram"
	MetaDropRate           = "drop_rate"
)

// Input/output keys with funnel significance.
const (
	InputCandidateCount = "candidate_count"
	OutputSurvivors     = "survivors"
	OutputCount         = "count"
	OutputItems         = "items"
)

// Step is one discrete, named action within a run. Rows are idempotent by
// ID: re-ingesting the same step updates the existing row in place.
type Step struct {
	ID          uuid.UUID      `json:"id"`
	RunID       uuid.UUID      `json:"run_id"`
	Name        string         `json:"name"`
	Type        StepType       `json:"type"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     map[string]any `json:"outputs"`
	Metadata    map[string]any `json:"metadata"`
	Reasoning   *string        `json:"reasoning,omitempty"`
	Cost        float64        `json:"cost"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       *string        `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
