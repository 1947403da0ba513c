package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/insurance-engine/insurance"
	"github.com/warp/insurance-engine/metrics"
)

// saga tracks one operation through its phases. Journal and metrics
// failures are logged and never change the operation's outcome.
type saga struct {
	c       *Coordinator
	intent  insurance.SagaIntent
	started time.Time
}

func (c *Coordinator) begin(ctx context.Context, op insurance.Operation, entityID string) *saga {
	now := c.now().UTC()
	s := &saga{
		c:       c,
		started: now,
		intent: insurance.SagaIntent{
			ID:        uuid.NewString(),
			Operation: op,
			EntityID:  entityID,
			Status:    insurance.IntentStarted,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	s.record(ctx)
	return s
}

// reject reports an operation refused before any store was touched.
func (c *Coordinator) reject(op insurance.Operation, err error) error {
	c.log.Debug().Str("operation", string(op)).Err(err).Msg("request rejected")
	c.metrics.ObserveOperation(string(op), metrics.OutcomeRejected, 0)
	return err
}

func (s *saga) record(ctx context.Context) {
	if s.c.journal == nil {
		return
	}
	s.intent.UpdatedAt = s.c.now().UTC()
	if err := s.c.journal.Record(ctx, s.intent); err != nil {
		s.c.log.Warn().
			Err(err).
			Str("saga_id", s.intent.ID).
			Str("status", string(s.intent.Status)).
			Msg("failed to record saga intent")
	}
}

func (s *saga) elapsed() time.Duration {
	return s.c.now().Sub(s.started)
}

// primaryFailed closes a saga whose Phase 1 wrote nothing.
func (s *saga) primaryFailed(ctx context.Context, err error) error {
	s.intent.Status = insurance.IntentFailed
	s.intent.Error = err.Error()
	s.record(ctx)

	event := s.c.log.Warn()
	if insurance.IsClientError(err) || insurance.IsNotFound(err) {
		event = s.c.log.Debug()
	}
	event.Err(err).
		Str("saga_id", s.intent.ID).
		Str("operation", string(s.intent.Operation)).
		Msg("primary phase failed")

	s.c.metrics.ObserveOperation(string(s.intent.Operation), metrics.OutcomeRejected, s.elapsed())
	return err
}

// primaryCommitted journals what a rollback of Phase 1 needs.
func (s *saga) primaryCommitted(ctx context.Context, entityID string, payload any) {
	s.intent.EntityID = entityID
	s.intent.Status = insurance.IntentPrimaryCommitted
	data, err := json.Marshal(payload)
	if err != nil {
		s.c.log.Error().Err(err).Str("saga_id", s.intent.ID).Msg("failed to encode rollback payload")
	}
	s.intent.Payload = data
	s.record(ctx)
}

func (s *saga) completed(ctx context.Context) {
	s.intent.Status = insurance.IntentCompleted
	s.record(ctx)
	s.c.log.Debug().
		Str("saga_id", s.intent.ID).
		Str("operation", string(s.intent.Operation)).
		Str("entity_id", s.intent.EntityID).
		Msg("operation completed")
	s.c.metrics.ObserveOperation(string(s.intent.Operation), metrics.OutcomeCompleted, s.elapsed())
}

// secondaryFailed compensates Phase 1 and returns the Phase-2 error.
// The compensation outcome is logged and journaled only.
func (s *saga) secondaryFailed(ctx context.Context, cause error, compensate func(ctx context.Context) error) error {
	op := string(s.intent.Operation)
	logger := s.c.log.With().
		Str("saga_id", s.intent.ID).
		Str("operation", op).
		Str("entity_id", s.intent.EntityID).
		Logger()

	logger.Warn().Err(cause).Msg("secondary write failed, compensating primary write")

	// The caller's context may already be canceled; the reversal still runs.
	cerr := compensate(context.WithoutCancel(ctx))
	if cerr != nil {
		compErr := &insurance.CompensationError{Operation: op, EntityID: s.intent.EntityID, Err: cerr}
		s.intent.Status = insurance.IntentCompensationFailed
		s.intent.Error = fmt.Sprintf("%v; %v", cause, compErr)
		logger.Error().Err(compErr).Msg("compensation failed, stores are inconsistent")
		s.c.metrics.ObserveCompensation(op, metrics.ResultFailed)
		s.c.metrics.ObserveOperation(op, metrics.OutcomeCompensationFailed, s.elapsed())
	} else {
		s.intent.Status = insurance.IntentCompensated
		s.intent.Error = cause.Error()
		logger.Info().Msg("compensation completed")
		s.c.metrics.ObserveCompensation(op, metrics.ResultSucceeded)
		s.c.metrics.ObserveOperation(op, metrics.OutcomeCompensated, s.elapsed())
	}
	s.record(context.WithoutCancel(ctx))

	return &insurance.SecondaryWriteError{Operation: op, Err: cause}
}

// withAllocationRetry re-runs a Phase-1 transaction while it keeps losing an
// identifier race. Any other error ends the loop.
func (c *Coordinator) withAllocationRetry(ctx context.Context, s *saga, phase func() error) error {
	var err error
	for attempt := 1; attempt <= c.idAttempts; attempt++ {
		err = phase()
		if !errors.Is(err, insurance.ErrIDCollision) {
			return err
		}
		c.log.Warn().
			Err(err).
			Str("saga_id", s.intent.ID).
			Int("attempt", attempt).
			Msg("identifier collision, re-allocating")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
