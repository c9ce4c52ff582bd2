// Package funnel reconstructs a decision funnel from a run's step records.
//
// The reconstructor never saw the per-item data the SDK summarized away; it
// derives a linear "how many entered, how many survived, why the rest were
// dropped" view from the counts and histograms each step carries.
package funnel

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/xray-ai/xray/internal/model"
	"github.com/xray-ai/xray/internal/storage"
)

// Service answers funnel queries against the record store.
type Service struct {
	store storage.Store
}

// New creates a funnel service.
func New(store storage.Store) *Service {
	return &Service{store: store}
}

// Analyze loads a run and its steps and reconstructs the decision funnel.
// Returns storage.ErrNotFound when the run does not exist; a run with zero
// steps is valid and yields an empty funnel.
func (s *Service) Analyze(ctx context.Context, runID uuid.UUID) (model.DecisionFunnel, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return model.DecisionFunnel{}, fmt.Errorf("funnel: load run: %w", err)
	}
	steps, err := s.store.ListStepsByRun(ctx, runID)
	if err != nil {
		return model.DecisionFunnel{}, fmt.Errorf("funnel: load steps: %w", err)
	}
	return Reconstruct(run, steps), nil
}

// Reconstruct derives the decision funnel from a run and its steps, which
// must be ordered by start time. Count extraction is type-specific; fields
// with no usable source are left absent, never guessed.
func Reconstruct(run model.Run, steps []model.Step) model.DecisionFunnel {
	funnel := model.DecisionFunnel{
		RunID:     run.ID,
		RunName:   run.Name,
		Status:    run.Status,
		TotalCost: run.TotalCost,
		Funnel:    make([]model.FunnelEntry, 0, len(steps)),
	}

	for _, step := range steps {
		entry := model.FunnelEntry{
			StepID:    step.ID,
			StepName:  step.Name,
			StepType:  step.Type,
			Reasoning: step.Reasoning,
			Cost:      step.Cost,
		}

		switch step.Type {
		case model.StepTypeFilter:
			entry.InputCount = firstCount(
				step.Metadata[model.MetaTotalCount],
				step.Inputs[model.InputCandidateCount],
			)
			entry.OutputCount = firstCount(
				step.Metadata[model.MetaSurvivorCount],
				lenOf(step.Outputs[model.OutputSurvivors]),
			)
		case model.StepTypeRetrieval:
			entry.OutputCount = firstCount(
				step.Outputs[model.OutputCount],
				lenOf(step.Outputs[model.OutputItems]),
			)
		case model.StepTypeLogic:
			// Each logic step overwrites the prior candidate, empty
			// outputs included, so the funnel's final output is that of
			// the last logic step.
			funnel.FinalOutput = step.Outputs
			if funnel.FinalOutput == nil {
				funnel.FinalOutput = map[string]any{}
			}
		case model.StepTypeLLM:
			// Included for cost and reasoning visibility only.
		}

		entry.DropRate = dropRate(step.Metadata[model.MetaDropRate], entry.InputCount, entry.OutputCount)
		entry.RejectionHistogram = histogram(step.Metadata[model.MetaRejectionHistogram])

		funnel.Funnel = append(funnel.Funnel, entry)
	}

	return funnel
}

// dropRate applies the precedence rule: a drop_rate recorded in step
// metadata wins; otherwise the rate is computed from the counts when both
// are known and the input count is positive; otherwise it stays absent.
func dropRate(meta any, inputCount, outputCount *int) *float64 {
	if rate, ok := asFloat(meta); ok {
		return &rate
	}
	if inputCount != nil && outputCount != nil && *inputCount > 0 {
		rate := float64(*inputCount-*outputCount) / float64(*inputCount)
		return &rate
	}
	return nil
}

// firstCount returns the first value that coerces to an integer count.
func firstCount(candidates ...any) *int {
	for _, c := range candidates {
		if n, ok := asInt(c); ok {
			return &n
		}
	}
	return nil
}

// lenOf returns the length of a JSON array value, or nil for anything else.
func lenOf(v any) any {
	if items, ok := v.([]any); ok {
		return len(items)
	}
	return nil
}

// histogram coerces a decoded rejection_histogram back to reason→count.
func histogram(v any) map[string]int {
	switch h := v.(type) {
	case map[string]int:
		return h
	case map[string]any:
		out := make(map[string]int, len(h))
		for reason, count := range h {
			if n, ok := asInt(count); ok {
				out[reason] = n
			}
		}
		return out
	}
	return nil
}

// asInt coerces the numeric types JSON decoding and direct construction
// produce. Returns false for anything non-numeric.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
