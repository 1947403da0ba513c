package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/insurance"
	"github.com/warp/insurance-engine/insurance/store"
)

func TestJournalPruner_Sweep(t *testing.T) {
	// GIVEN: Old and recent intents in several states
	// WHEN: Sweeping with a 24h retention
	// THEN: Only old finished intents are removed

	now := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)

	j := store.NewJournal()
	ctx := context.Background()
	seed := []insurance.SagaIntent{
		{ID: "old-completed", Status: insurance.IntentCompleted, CreatedAt: old, UpdatedAt: old},
		{ID: "old-abandoned", Status: insurance.IntentAbandoned, CreatedAt: old, UpdatedAt: old},
		{ID: "old-comp-failed", Status: insurance.IntentCompensationFailed, CreatedAt: old, UpdatedAt: old},
		{ID: "old-committed", Status: insurance.IntentPrimaryCommitted, CreatedAt: old, UpdatedAt: old},
		{ID: "recent-completed", Status: insurance.IntentCompleted, CreatedAt: recent, UpdatedAt: recent},
	}
	for _, intent := range seed {
		require.NoError(t, j.Record(ctx, intent))
	}

	p := NewJournalPruner(j, 24*time.Hour, time.Hour, zerolog.Nop())
	p.now = func() time.Time { return now }

	assert.Equal(t, 2, p.Sweep(ctx))

	left, err := j.List(ctx, insurance.IntentFilter{})
	require.NoError(t, err)
	ids := make([]string, len(left))
	for i, intent := range left {
		ids[i] = intent.ID
	}
	assert.ElementsMatch(t, []string{"old-comp-failed", "old-committed", "recent-completed"}, ids)
}

func TestJournalPruner_SweepFailureIsLogged(t *testing.T) {
	j := store.NewJournal()
	j.FailNext("Prune", errors.New("disk I/O error"))

	p := NewJournalPruner(j, time.Hour, time.Hour, zerolog.Nop())

	assert.Equal(t, 0, p.Sweep(context.Background()))
}

func TestJournalPruner_StartStop(t *testing.T) {
	j := store.NewJournal()
	require.NoError(t, j.Record(context.Background(), insurance.SagaIntent{
		ID: "done", Status: insurance.IntentCompleted, CreatedAt: time.Unix(0, 0), UpdatedAt: time.Unix(0, 0),
	}))

	p := NewJournalPruner(j, time.Hour, time.Hour, zerolog.Nop())
	p.Start()
	p.Start()

	require.Eventually(t, func() bool {
		got, _ := j.Get(context.Background(), "done")
		return got == nil
	}, time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()
}
