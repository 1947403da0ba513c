/*
retention.go - Saga journal retention sweep

PURPOSE:
  Periodically deletes finished journal entries older than the retention
  window so the journal only grows with in-flight and failed sagas.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Sweeps once immediately on Start
  - Only statuses in insurance.PrunableStatuses are removed; intents that
    recovery may still act on and compensation failures are never touched

CONFIGURATION:
  - Interval:  How often to sweep (SAGA_PRUNE_INTERVAL, default 1h)
  - Retention: Age past which finished intents go (SAGA_RETENTION, default 30 days)

USAGE:
  pruner := coordinator.NewJournalPruner(journal, 30*24*time.Hour, time.Hour, log)
  pruner.Start()
  // ... later
  pruner.Stop()
*/
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/insurance-engine/insurance"
)

const pruneTimeout = time.Minute

// JournalPruner removes old finished saga intents on a schedule.
type JournalPruner struct {
	Journal   insurance.IntentPruner
	Retention time.Duration
	Interval  time.Duration

	log zerolog.Logger
	now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewJournalPruner(journal insurance.IntentPruner, retention, interval time.Duration, log zerolog.Logger) *JournalPruner {
	return &JournalPruner{
		Journal:   journal,
		Retention: retention,
		Interval:  interval,
		log:       log.With().Str("component", "journal_pruner").Logger(),
		now:       time.Now,
	}
}

// Start begins sweeping. Calling Start on a running pruner does nothing.
func (p *JournalPruner) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil {
		return
	}
	p.ticker = time.NewTicker(p.Interval)
	p.stop = make(chan struct{})
	p.wg.Add(1)

	go p.run(p.ticker, p.stop)

	p.log.Info().Dur("interval", p.Interval).Dur("retention", p.Retention).Msg("journal pruner started")
}

// Stop halts the sweep loop and waits for an in-progress sweep to finish.
func (p *JournalPruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	close(p.stop)
	p.wg.Wait()
	p.ticker = nil
	p.log.Info().Msg("journal pruner stopped")
}

func (p *JournalPruner) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer p.wg.Done()

	p.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			p.Sweep(context.Background())
		case <-stop:
			return
		}
	}
}

// Sweep runs one prune pass and returns the number of removed intents.
func (p *JournalPruner) Sweep(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	cutoff := p.now().Add(-p.Retention)
	removed, err := p.Journal.Prune(ctx, cutoff)
	if err != nil {
		p.log.Warn().Err(err).Time("cutoff", cutoff).Msg("journal prune failed")
		return 0
	}
	if removed > 0 {
		p.log.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("journal pruned")
	}
	return removed
}
