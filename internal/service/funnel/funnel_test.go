package funnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xray-ai/xray/internal/model"
	"github.com/xray-ai/xray/internal/storage"
)

func testRun() model.Run {
	return model.Run{
		ID:        uuid.New(),
		Name:      "candidate_search",
		Status:    model.RunStatusCompleted,
		TotalCost: 0.42,
		StartedAt: time.Now().UTC(),
	}
}

func step(runID uuid.UUID, name string, stepType model.StepType, offset time.Duration) model.Step {
	return model.Step{
		ID:        uuid.New(),
		RunID:     runID,
		Name:      name,
		Type:      stepType,
		StartedAt: time.Now().UTC().Add(offset),
	}
}

func TestReconstructFilterThenLogic(t *testing.T) {
	run := testRun()

	filter := step(run.ID, "score_filter", model.StepTypeFilter, 0)
	filter.Metadata = map[string]any{
		model.MetaTotalCount:         5000,
		model.MetaSurvivorCount:      50,
		model.MetaRejectionHistogram: map[string]any{"low_score": float64(4000), "spam": float64(950)},
	}

	logic := step(run.ID, "select_best", model.StepTypeLogic, time.Second)
	logic.Outputs = map[string]any{"selected": "X"}

	funnel := Reconstruct(run, []model.Step{filter, logic})

	require.Len(t, funnel.Funnel, 2)
	assert.Equal(t, run.ID, funnel.RunID)
	assert.Equal(t, "candidate_search", funnel.RunName)
	assert.Equal(t, 0.42, funnel.TotalCost)

	entry := funnel.Funnel[0]
	require.NotNil(t, entry.InputCount)
	require.NotNil(t, entry.OutputCount)
	require.NotNil(t, entry.DropRate)
	assert.Equal(t, 5000, *entry.InputCount)
	assert.Equal(t, 50, *entry.OutputCount)
	assert.InDelta(t, 0.99, *entry.DropRate, 1e-9)
	assert.Equal(t, map[string]int{"low_score": 4000, "spam": 950}, entry.RejectionHistogram)

	assert.Equal(t, map[string]any{"selected": "X"}, funnel.FinalOutput)
}

func TestReconstructZeroTotalCountLeavesDropRateAbsent(t *testing.T) {
	run := testRun()
	filter := step(run.ID, "empty_filter", model.StepTypeFilter, 0)
	filter.Metadata = map[string]any{
		model.MetaTotalCount:    0,
		model.MetaSurvivorCount: 0,
	}

	funnel := Reconstruct(run, []model.Step{filter})

	require.Len(t, funnel.Funnel, 1)
	entry := funnel.Funnel[0]
	require.NotNil(t, entry.InputCount)
	assert.Equal(t, 0, *entry.InputCount)
	assert.Nil(t, entry.DropRate)
}

func TestReconstructFilterFallbacks(t *testing.T) {
	run := testRun()
	filter := step(run.ID, "fallback_filter", model.StepTypeFilter, 0)
	filter.Inputs = map[string]any{model.InputCandidateCount: float64(10)}
	filter.Outputs = map[string]any{model.OutputSurvivors: []any{"a", "b", "c"}}

	funnel := Reconstruct(run, []model.Step{filter})

	entry := funnel.Funnel[0]
	require.NotNil(t, entry.InputCount)
	require.NotNil(t, entry.OutputCount)
	assert.Equal(t, 10, *entry.InputCount)
	assert.Equal(t, 3, *entry.OutputCount)
	require.NotNil(t, entry.DropRate)
	assert.InDelta(t, 0.7, *entry.DropRate, 1e-9)
}

func TestReconstructFilterMissingAllSources(t *testing.T) {
	run := testRun()
	filter := step(run.ID, "bare_filter", model.StepTypeFilter, 0)

	funnel := Reconstruct(run, []model.Step{filter})

	entry := funnel.Funnel[0]
	assert.Nil(t, entry.InputCount)
	assert.Nil(t, entry.OutputCount)
	assert.Nil(t, entry.DropRate)
	assert.Nil(t, entry.RejectionHistogram)
}

func TestReconstructRetrievalCounts(t *testing.T) {
	run := testRun()

	withCount := step(run.ID, "vector_search", model.StepTypeRetrieval, 0)
	withCount.Outputs = map[string]any{model.OutputCount: float64(5000)}

	withItems := step(run.ID, "keyword_search", model.StepTypeRetrieval, time.Second)
	withItems.Outputs = map[string]any{model.OutputItems: []any{"a", "b"}}

	funnel := Reconstruct(run, []model.Step{withCount, withItems})

	require.NotNil(t, funnel.Funnel[0].OutputCount)
	assert.Equal(t, 5000, *funnel.Funnel[0].OutputCount)
	assert.Nil(t, funnel.Funnel[0].InputCount)

	require.NotNil(t, funnel.Funnel[1].OutputCount)
	assert.Equal(t, 2, *funnel.Funnel[1].OutputCount)
}

func TestReconstructMetadataDropRateWins(t *testing.T) {
	run := testRun()
	filter := step(run.ID, "score_filter", model.StepTypeFilter, 0)
	filter.Metadata = map[string]any{
		model.MetaTotalCount:    100,
		model.MetaSurvivorCount: 50,
		model.MetaDropRate:      0.25, // disagrees with the counts on purpose
	}

	funnel := Reconstruct(run, []model.Step{filter})

	require.NotNil(t, funnel.Funnel[0].DropRate)
	assert.Equal(t, 0.25, *funnel.Funnel[0].DropRate)
}

func TestReconstructLastLogicStepWinsFinalOutput(t *testing.T) {
	run := testRun()

	first := step(run.ID, "pick_a", model.StepTypeLogic, 0)
	first.Outputs = map[string]any{"selected": "A"}
	second := step(run.ID, "pick_b", model.StepTypeLogic, time.Second)
	second.Outputs = map[string]any{"selected": "B"}

	funnel := Reconstruct(run, []model.Step{first, second})
	assert.Equal(t, map[string]any{"selected": "B"}, funnel.FinalOutput)
}

func TestReconstructEmptyLogicOutputsOverwriteFinalOutput(t *testing.T) {
	run := testRun()

	pick := step(run.ID, "pick", model.StepTypeLogic, 0)
	pick.Outputs = map[string]any{"selected": "A"}
	reset := step(run.ID, "reset", model.StepTypeLogic, time.Second)
	reset.Outputs = map[string]any{}

	funnel := Reconstruct(run, []model.Step{pick, reset})
	require.NotNil(t, funnel.FinalOutput)
	assert.Empty(t, funnel.FinalOutput, "a later logic step with empty outputs must still win")
}

func TestReconstructLogicStepNilOutputs(t *testing.T) {
	run := testRun()
	logic := step(run.ID, "noop", model.StepTypeLogic, 0)

	funnel := Reconstruct(run, []model.Step{logic})
	require.NotNil(t, funnel.FinalOutput)
	assert.Empty(t, funnel.FinalOutput)
}

func TestReconstructEmptyHistogramKept(t *testing.T) {
	run := testRun()
	filter := step(run.ID, "lenient_filter", model.StepTypeFilter, 0)
	filter.Metadata = map[string]any{
		model.MetaTotalCount:         10,
		model.MetaSurvivorCount:      10,
		model.MetaRejectionHistogram: map[string]any{},
	}

	funnel := Reconstruct(run, []model.Step{filter})

	entry := funnel.Funnel[0]
	require.NotNil(t, entry.RejectionHistogram, "present-but-empty histogram must survive")
	assert.Empty(t, entry.RejectionHistogram)
}

func TestReconstructLLMStepCarriesCostAndReasoningOnly(t *testing.T) {
	run := testRun()
	reasoning := "ranked by relevance"

	llm := step(run.ID, "rank", model.StepTypeLLM, 0)
	llm.Cost = 0.09
	llm.Reasoning = &reasoning
	llm.Outputs = map[string]any{"ranking": []any{"a", "b"}}

	funnel := Reconstruct(run, []model.Step{llm})

	entry := funnel.Funnel[0]
	assert.Nil(t, entry.InputCount)
	assert.Nil(t, entry.OutputCount)
	assert.Equal(t, 0.09, entry.Cost)
	require.NotNil(t, entry.Reasoning)
	assert.Equal(t, reasoning, *entry.Reasoning)
	assert.Nil(t, funnel.FinalOutput, "llm outputs must not become the final output")
}

func TestReconstructEmptyRun(t *testing.T) {
	run := testRun()
	funnel := Reconstruct(run, nil)
	assert.Empty(t, funnel.Funnel)
	assert.Nil(t, funnel.FinalOutput)
}

func TestAnalyzeUnknownRun(t *testing.T) {
	store := storage.NewMemory()
	svc := New(store)

	_, err := svc.Analyze(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestAnalyzeLoadsStepsInStartOrder(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	run := testRun()
	require.NoError(t, store.RecordRunCompletion(ctx, run))

	logic := step(run.ID, "select", model.StepTypeLogic, 2*time.Second)
	logic.Outputs = map[string]any{"selected": "X"}
	retrieval := step(run.ID, "search", model.StepTypeRetrieval, 0)
	retrieval.Outputs = map[string]any{model.OutputCount: 100}

	// Insert out of order; listing restores start-time order.
	_, err := store.RecordStepCompletion(ctx, logic)
	require.NoError(t, err)
	_, err = store.RecordStepCompletion(ctx, retrieval)
	require.NoError(t, err)

	funnel, err := New(store).Analyze(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, funnel.Funnel, 2)
	assert.Equal(t, "search", funnel.Funnel[0].StepName)
	assert.Equal(t, "select", funnel.Funnel[1].StepName)
	assert.Equal(t, map[string]any{"selected": "X"}, funnel.FinalOutput)
}
