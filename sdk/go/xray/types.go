package xray

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
)

// StepType categorizes what kind of work a step performs.
type StepType string

const (
	StepLLM       StepType = "llm"
	StepRetrieval StepType = "retrieval"
	StepFilter    StepType = "filter"
	StepLogic     StepType = "logic"
)

// RunRecord is the wire snapshot of a run, shipped inside an ingest event.
type RunRecord struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Status      RunStatus      `json:"status"`
	TotalCost   float64        `json:"total_cost"`
	Tags        map[string]any `json:"tags"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       *string        `json:"error,omitempty"`
}

// StepRecord is the wire snapshot of a step, shipped inside an ingest event.
type StepRecord struct {
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
}

// Event kinds accepted by the ingest endpoint.
const (
	kindRunComplete  = "run_complete"
	kindRunFailed    = "run_failed"
	kindStepComplete = "step_complete"
	kindStepFailed   = "step_failed"
)

// event is the {kind, payload} envelope shipped to the server. Payload is
// a RunRecord or StepRecord depending on kind. Events are immutable once
// enqueued.
type event struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// RunSpec describes a run to be started by Client.Run.
type RunSpec struct {
	// Name identifies the pipeline (e.g. "candidate_search").
	Name string

	// Tags are free-form labels attached to the run. Values that do not
	// serialize to JSON are converted to their string representation.
	Tags map[string]any
}

// StepSpec describes a step to be started by Client.Step.
type StepSpec struct {
	Name      string
	Type      StepType
	Reasoning string

	// Inputs are recorded on the step at entry. Values that do not
	// serialize to JSON are converted to their string representation.
	Inputs map[string]any

	// Cost is the initial cost attributed to the step. Use the *Step
	// handle's AddCost/SetCost to adjust it from inside the step body.
	Cost float64

	// TokenUsage, when set on a step with zero Cost, derives the cost via
	// EstimateLLMCost.
	TokenUsage *TokenUsage
}

// TokenUsage reports LLM token consumption for cost estimation.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int

	// Model selects the pricing row. Unknown or empty models fall back
	// to gpt-4 pricing.
	Model string
}
