package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/insurance-engine/insurance"
)

// =============================================================================
// JOURNAL - In-memory IntentLog
// =============================================================================

type Journal struct {
	faults
	mu      sync.RWMutex
	intents map[string]insurance.SagaIntent
}

func NewJournal() *Journal {
	return &Journal{intents: make(map[string]insurance.SagaIntent)}
}

func (j *Journal) Record(_ context.Context, intent insurance.SagaIntent) error {
	if err := j.take("Record"); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if prev, ok := j.intents[intent.ID]; ok && intent.CreatedAt.IsZero() {
		intent.CreatedAt = prev.CreatedAt
	}
	intent.Payload = append([]byte(nil), intent.Payload...)
	j.intents[intent.ID] = intent
	return nil
}

func (j *Journal) Get(_ context.Context, id string) (*insurance.SagaIntent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	intent, ok := j.intents[id]
	if !ok {
		return nil, nil
	}
	return &intent, nil
}

func (j *Journal) List(_ context.Context, filter insurance.IntentFilter) ([]insurance.SagaIntent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []insurance.SagaIntent
	for _, intent := range j.intents {
		if matches(filter, intent) {
			out = append(out, intent)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(filter insurance.IntentFilter, intent insurance.SagaIntent) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, s := range filter.Statuses {
			if s == intent.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Operations) > 0 {
		found := false
		for _, op := range filter.Operations {
			if op == intent.Operation {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (j *Journal) Prune(_ context.Context, cutoff time.Time) (int, error) {
	if err := j.take("Prune"); err != nil {
		return 0, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	filter := insurance.IntentFilter{Statuses: insurance.PrunableStatuses}
	removed := 0
	for id, intent := range j.intents {
		updated := intent.UpdatedAt
		if updated.IsZero() {
			updated = intent.CreatedAt
		}
		if matches(filter, intent) && updated.Before(cutoff) {
			delete(j.intents, id)
			removed++
		}
	}
	return removed, nil
}
