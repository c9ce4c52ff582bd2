package xray

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metadata keys carried on filter steps.
const (
	metaTotalCount         = "total_count"
	metaSurvivorCount      = "survivor_count"
	metaRejectionHistogram = "rejection_histogram"
	metaDropRate           = "drop_rate"
)

// unknownReason buckets rejections whose classify call gave no reason.
const unknownReason = "unknown"

// Summarize applies classify to every candidate and returns the accepted
// subset in original order. When c is nil or ctx carries no active run, it
// is a pure filter and emits nothing. Otherwise it records the whole pass
// as a single already-completed filter step: counts and a rejection-reason
// histogram, never the individual rejects. The artifact is sized by the
// number of distinct reasons, not by the number of candidates.
func Summarize[T any](ctx context.Context, c *Client, name string, candidates []T, classify func(T) (accepted bool, reason string)) []T {
	run := currentRun(ctx, c)
	if run == nil {
		survivors := make([]T, 0, len(candidates))
		for _, cand := range candidates {
			if ok, _ := classify(cand); ok {
				survivors = append(survivors, cand)
			}
		}
		return survivors
	}

	startedAt := time.Now().UTC()
	survivors := make([]T, 0, len(candidates))
	histogram := map[string]int{}
	for _, cand := range candidates {
		ok, reason := classify(cand)
		if ok {
			survivors = append(survivors, cand)
			continue
		}
		if reason == "" {
			reason = unknownReason
		}
		histogram[reason]++
	}
	completedAt := time.Now().UTC()

	total := len(candidates)
	dropRate := 0.0
	if total > 0 {
		dropRate = float64(total-len(survivors)) / float64(total)
	}

	inputs := map[string]any{"candidate_count": total}
	if total > 0 {
		inputs["sample_input"] = jsonSafe(candidates[0])
	}

	reasoning := fmt.Sprintf("Filtered %d candidates, %d survived. Rejection reasons: %v",
		total, len(survivors), histogram)

	record := StepRecord{
		ID:     uuid.New(),
		RunID:  run.ID(),
		Name:   name,
		Type:   StepFilter,
		Inputs: inputs,
		Outputs: map[string]any{
			"survivor_count": len(survivors),
			"survivors":      jsonSafe(survivors),
		},
		Metadata: map[string]any{
			metaTotalCount:         total,
			metaSurvivorCount:      len(survivors),
			metaRejectionHistogram: histogram,
			metaDropRate:           dropRate,
		},
		Reasoning:   &reasoning,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
	}
	c.enqueue(event{Kind: kindStepComplete, Payload: record})

	return survivors
}

// currentRun resolves the active run for emission, requiring a usable
// client.
func currentRun(ctx context.Context, c *Client) *Run {
	if c == nil {
		return nil
	}
	return RunFromContext(ctx)
}
