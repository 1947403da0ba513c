/*
Package coordinator runs the dual-store write sagas.

PURPOSE:
  Every public operation touches two stores that share no transaction.
  The coordinator orders the writes so the store holding the authoritative
  checks goes first (Phase 1), mirrors the change into the other store
  (Phase 2), and reverses Phase 1 when Phase 2 fails.

OPERATIONS:
  CreateClient   documents → graph    compensation: delete inserted doc
  UpdateClient   documents → graph    compensation: replace with original
  DeleteClient   documents → graph    compensation: re-insert snapshot
  EmitPolicy     graph → documents    compensation: detach-delete Policy
  EmitAccident   graph only           no Phase 2

FAILURE SEMANTICS:
  Phase 1 fails  → nothing written, error returned as is.
  Phase 2 fails  → Phase 1 compensated, outcome logged and journaled, the
                   Phase-2 error returned wrapped in SecondaryWriteError.
  Compensation fails → logged and journaled as compensation_failed; the
                   caller still sees the Phase-2 error. It is never retried;
                   the journal entry is kept for an operator.

CONCURRENCY:
  No locks are taken here. Each phase relies on its store's native
  transaction. Two requests racing for the same next ID are told apart by
  the stores' uniqueness constraints (ErrIDCollision) and Phase 1 is re-run.

SEE ALSO:
  - saga.go: Phase bookkeeping, journaling and metrics
  - recovery.go: Boot-time rollback of interrupted sagas
  - insurance/store.go: Store contracts
*/
package coordinator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/insurance-engine/insurance"
	"github.com/warp/insurance-engine/metrics"
)

// DefaultIDAllocationAttempts bounds how often Phase 1 is re-run after an
// identifier collision.
const DefaultIDAllocationAttempts = 3

// Coordinator owns the outcome of every dual-store operation.
type Coordinator struct {
	docs       insurance.DocumentStore
	graph      insurance.GraphStore
	journal    insurance.IntentLog
	metrics    *metrics.Saga
	log        zerolog.Logger
	now        func() time.Time
	idAttempts int
}

type Option func(*Coordinator)

// WithJournal records saga progress durably so Recover can finish
// interrupted operations.
func WithJournal(j insurance.IntentLog) Option {
	return func(c *Coordinator) { c.journal = j }
}

func WithMetrics(m *metrics.Saga) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l.With().Str("component", "coordinator").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDAllocationAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.idAttempts = n
		}
	}
}

// New creates a coordinator over the two stores.
func New(docs insurance.DocumentStore, graph insurance.GraphStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		docs:       docs,
		graph:      graph,
		log:        zerolog.Nop(),
		now:        time.Now,
		idAttempts: DefaultIDAllocationAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// RESULTS
// =============================================================================

type ClientResult struct {
	ClientID string `json:"id_cliente"`
}

type PolicyResult struct {
	Number string `json:"nro_poliza"`
}

type AccidentResult struct {
	AccidentID string `json:"id_siniestro"`
}
