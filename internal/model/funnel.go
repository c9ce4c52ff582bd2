package model

import "github.com/google/uuid"

// FunnelEntry is the derived per-step view in a decision funnel. Count and
// rate fields are nil when the step record carries no usable source for
// them; they are never guessed from partial information.
type FunnelEntry struct {
	StepID             uuid.UUID      `json:"step_id"`
	StepName           string         `json:"step_name"`
	StepType           StepType       `json:"step_type"`
	InputCount         *int           `json:"input_count,omitempty"`
	OutputCount        *int           `json:"output_count,omitempty"`
	DropRate           *float64       `json:"drop_rate,omitempty"`
	RejectionHistogram map[string]int `json:"rejection_histogram,omitempty"`
	Reasoning          *string        `json:"reasoning,omitempty"`
	Cost               float64        `json:"cost"`
}

// DecisionFunnel is the reconstructed view of how item counts shrank across
// a run's steps. Computed fresh on every request, never persisted.
type DecisionFunnel struct {
	RunID       uuid.UUID      `json:"run_id"`
	RunName     string         `json:"run_name"`
	Status      RunStatus      `json:"status"`
	TotalCost   float64        `json:"total_cost"`
	Funnel      []FunnelEntry  `json:"funnel"`
	FinalOutput map[string]any `json:"final_output,omitempty"`
}
