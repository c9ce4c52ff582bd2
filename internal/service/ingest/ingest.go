// Package ingest applies batched SDK events to the record store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xray-ai/xray/internal/model"
	"github.com/xray-ai/xray/internal/storage"
)

// Service dispatches ingest events to the store with idempotent upsert
// semantics and incremental run-cost accumulation.
type Service struct {
	store  storage.Store
	logger *slog.Logger
}

// New creates an ingest service.
func New(store storage.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Apply processes a batch of events in order. Events with an unknown kind or
// an undecodable payload are skipped with a warning: malformed telemetry
// must never fail the rest of the batch. Store errors abort the batch.
// Returns the number of events applied.
func (s *Service) Apply(ctx context.Context, events []model.IngestEvent) (int, error) {
	processed := 0
	for i, ev := range events {
		if !ev.Kind.Valid() {
			s.logger.Warn("ingest: skipping event with unknown kind", "kind", ev.Kind, "index", i)
			continue
		}

		var err error
		if ev.Kind.IsRunEvent() {
			err = s.applyRunEvent(ctx, ev)
		} else {
			err = s.applyStepEvent(ctx, ev)
		}
		var de decodeError
		switch {
		case err == nil:
			processed++
		case errors.As(err, &de):
			s.logger.Warn("ingest: skipping undecodable event", "kind", ev.Kind, "index", i, "error", err)
		default:
			return processed, fmt.Errorf("ingest: apply %s: %w", ev.Kind, err)
		}
	}
	return processed, nil
}

func (s *Service) applyRunEvent(ctx context.Context, ev model.IngestEvent) error {
	run, err := ev.Run()
	if err != nil {
		return decodeError{err}
	}

	switch ev.Kind {
	case model.EventRunComplete:
		run.Status = model.RunStatusCompleted
	case model.EventRunFailed:
		run.Status = model.RunStatusFailed
	}
	return s.store.RecordRunCompletion(ctx, run)
}

func (s *Service) applyStepEvent(ctx context.Context, ev model.IngestEvent) error {
	step, err := ev.Step()
	if err != nil {
		return decodeError{err}
	}

	switch ev.Kind {
	case model.EventStepComplete:
		created, err := s.store.RecordStepCompletion(ctx, step)
		if err != nil {
			return err
		}
		// Cost accumulates exactly once per step: only when the row is new.
		// Re-ingesting the same step updates the record without double
		// counting, and a missing run simply drops the increment.
		if created && step.Cost != 0 {
			return s.store.AddRunCost(ctx, step.RunID, step.Cost)
		}
		return nil
	case model.EventStepFailed:
		_, err := s.store.RecordStepFailure(ctx, step)
		return err
	}
	return nil
}

// decodeError marks payload decoding failures so Apply can skip the event
// instead of aborting the batch.
type decodeError struct{ err error }

func (e decodeError) Error() string { return e.err.Error() }
func (e decodeError) Unwrap() error { return e.err }
