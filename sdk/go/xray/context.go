package xray

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	runCtxKey ctxKey = iota
	stepCtxKey
)

// Run is the live tracking state of an in-progress run. It is published in
// the context passed to the run body, so nested steps find their parent
// without any shared global state.
type Run struct {
	client *Client

	mu     sync.Mutex
	record RunRecord
}

// ID returns the run's identity.
func (r *Run) ID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.ID
}

// addCost accumulates a completed step's cost into the run snapshot.
func (r *Run) addCost(delta float64) {
	r.mu.Lock()
	r.record.TotalCost += delta
	r.mu.Unlock()
}

// snapshot returns a copy of the run record for enqueueing.
func (r *Run) snapshot() RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

// RunFromContext returns the current run, or nil when no run scope is
// active in ctx.
func RunFromContext(ctx context.Context) *Run {
	r, _ := ctx.Value(runCtxKey).(*Run)
	return r
}

// StepFromContext returns the current step, or nil when no step scope is
// active in ctx.
func StepFromContext(ctx context.Context) *Step {
	s, _ := ctx.Value(stepCtxKey).(*Step)
	return s
}

// Run executes fn inside a new run scope. The run starts as RUNNING and is
// published in the context passed to fn; steps opened within fn attach to
// it. On normal return a run_complete event is enqueued. If fn returns an
// error or panics, the run is marked FAILED with the error text captured,
// a run_failed event is enqueued, and the error or panic propagates
// unchanged.
func (c *Client) Run(ctx context.Context, spec RunSpec, fn func(ctx context.Context) error) error {
	now := time.Now().UTC()
	run := &Run{
		client: c,
		record: RunRecord{
			ID:        uuid.New(),
			Name:      spec.Name,
			Status:    StatusRunning,
			Tags:      jsonSafeMap(spec.Tags),
			StartedAt: now,
		},
	}
	runCtx := context.WithValue(ctx, runCtxKey, run)

	defer func() {
		if r := recover(); r != nil {
			run.finish(StatusFailed, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	if err := fn(runCtx); err != nil {
		run.finish(StatusFailed, err.Error())
		return err
	}
	run.finish(StatusCompleted, "")
	return nil
}

// finish stamps the terminal status and enqueues the matching event.
func (r *Run) finish(status RunStatus, errText string) {
	now := time.Now().UTC()
	r.mu.Lock()
	r.record.Status = status
	r.record.CompletedAt = &now
	if errText != "" {
		r.record.Error = &errText
	}
	snapshot := r.record
	r.mu.Unlock()

	kind := kindRunComplete
	if status == StatusFailed {
		kind = kindRunFailed
	}
	r.client.enqueue(event{Kind: kind, Payload: snapshot})
}

// Step is the handle passed to a step body. An inert Step (entered with no
// run in scope) accepts all mutations and emits nothing, so instrumentation
// calls stay safe in code paths that may run outside a run.
type Step struct {
	run *Run // nil for inert steps

	mu     sync.Mutex
	record StepRecord
}

// Active reports whether the step is tracked by a run.
func (s *Step) Active() bool { return s != nil && s.run != nil }

// SetOutputs records the step's outputs. Values that do not serialize to
// JSON are converted to their string representation.
func (s *Step) SetOutputs(outputs map[string]any) {
	if !s.Active() {
		return
	}
	s.mu.Lock()
	s.record.Outputs = jsonSafeMap(outputs)
	s.mu.Unlock()
}

// SetReasoning records free-text reasoning for the step.
func (s *Step) SetReasoning(reasoning string) {
	if !s.Active() {
		return
	}
	s.mu.Lock()
	s.record.Reasoning = &reasoning
	s.mu.Unlock()
}

// SetCost replaces the step's cost.
func (s *Step) SetCost(cost float64) {
	if !s.Active() {
		return
	}
	s.mu.Lock()
	s.record.Cost = cost
	s.mu.Unlock()
}

// AddCost accumulates into the step's cost.
func (s *Step) AddCost(delta float64) {
	if !s.Active() {
		return
	}
	s.mu.Lock()
	s.record.Cost += delta
	s.mu.Unlock()
}

// Step executes fn inside a new step scope. When no run is active in ctx
// the step is inert: fn still runs with an inert handle and nothing is
// emitted. Otherwise the step attaches to the current run, is published in
// the context passed to fn, and a step_complete or step_failed event is
// enqueued on exit. Errors and panics from fn propagate unchanged.
func (c *Client) Step(ctx context.Context, spec StepSpec, fn func(ctx context.Context, step *Step) error) error {
	run := RunFromContext(ctx)
	if run == nil {
		return fn(ctx, &Step{})
	}

	cost := spec.Cost
	if cost == 0 && spec.TokenUsage != nil {
		cost = EstimateLLMCost(*spec.TokenUsage)
	}

	now := time.Now().UTC()
	step := &Step{
		run: run,
		record: StepRecord{
			ID:        uuid.New(),
			RunID:     run.ID(),
			Name:      spec.Name,
			Type:      spec.Type,
			Inputs:    jsonSafeMap(spec.Inputs),
			Cost:      cost,
			StartedAt: now,
		},
	}
	if spec.Reasoning != "" {
		step.record.Reasoning = &spec.Reasoning
	}
	stepCtx := context.WithValue(ctx, stepCtxKey, step)

	defer func() {
		if r := recover(); r != nil {
			step.finish(false, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	if err := fn(stepCtx, step); err != nil {
		step.finish(false, err.Error())
		return err
	}
	step.finish(true, "")
	return nil
}

func (s *Step) finish(ok bool, errText string) {
	now := time.Now().UTC()
	s.mu.Lock()
	s.record.CompletedAt = &now
	if errText != "" {
		s.record.Error = &errText
	}
	snapshot := s.record
	s.mu.Unlock()

	kind := kindStepComplete
	if !ok {
		kind = kindStepFailed
	}
	if ok {
		s.run.addCost(snapshot.Cost)
	}
	s.run.client.enqueue(event{Kind: kind, Payload: snapshot})
}
