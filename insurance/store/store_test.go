package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/insurance"
	"github.com/warp/insurance-engine/insurance/store"
)

var errInjected = errors.New("injected")

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestDocuments_TxRollsBackOnError(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: A transaction inserts then fails
	// THEN: Nothing is visible afterwards

	d := store.NewDocuments()
	ctx := context.Background()

	err := d.WithTx(ctx, func(ctx context.Context, tx insurance.DocumentTx) error {
		require.NoError(t, tx.InsertClient(ctx, insurance.Client{ID: "1", DNI: "100"}))
		return errInjected
	})

	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, 0, d.Writes())
}

func TestDocuments_InsertCollisions(t *testing.T) {
	d := store.NewDocuments()
	ctx := context.Background()
	require.NoError(t, d.InsertClient(ctx, insurance.Client{ID: "1", DNI: "100"}))

	err := d.InsertClient(ctx, insurance.Client{ID: "1", DNI: "200"})
	assert.ErrorIs(t, err, insurance.ErrIDCollision)

	err = d.InsertClient(ctx, insurance.Client{ID: "2", DNI: "100"})
	var conflict *insurance.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "1", conflict.Report.DNIOwner)
}

func TestDocuments_MaxScansAndPlates(t *testing.T) {
	d := store.NewDocuments()
	d.Put(insurance.Client{ID: "2", DNI: "1", Vehiculos: []insurance.Vehicle{{ID: "3", Patente: "BB"}}})
	d.Put(insurance.Client{ID: "10", DNI: "2", Vehiculos: []insurance.Vehicle{{ID: "7", Patente: "AA"}, {ID: "x", Patente: "CC"}}})
	d.Put(insurance.Client{ID: "legacy", DNI: "3"})

	err := d.WithTx(context.Background(), func(ctx context.Context, tx insurance.DocumentTx) error {
		maxClient, err := tx.MaxClientID(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(10), maxClient)

		maxVehicle, err := tx.MaxVehicleID(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), maxVehicle)

		owners, err := tx.FindPlates(ctx, []string{"CC", "AA", "ZZ"})
		require.NoError(t, err)
		assert.Equal(t, []insurance.PlateOwner{{Patente: "AA", ClientID: "10"}, {Patente: "CC", ClientID: "10"}}, owners)

		missing, err := tx.FindClient(ctx, "99")
		assert.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	})
	require.NoError(t, err)
}

func TestDocuments_AddAndRemovePolicy(t *testing.T) {
	d := store.NewDocuments()
	ctx := context.Background()
	d.Put(insurance.Client{ID: "1", DNI: "1", Vehiculos: []insurance.Vehicle{{ID: "1"}, {ID: "2"}}})

	require.NoError(t, d.AddPolicy(ctx, "1", insurance.Policy{Number: "POL1001", Tipo: insurance.PolicyAuto}, true))
	c, _ := d.Client("1")
	require.Len(t, c.Polizas, 1)
	assert.True(t, c.Vehiculos[0].Asegurado)
	assert.True(t, c.Vehiculos[1].Asegurado)

	require.NoError(t, d.RemovePolicy(ctx, "1", "POL1001"))
	require.NoError(t, d.RemovePolicy(ctx, "1", "POL1001"), "removing twice is not an error")
	require.NoError(t, d.RemovePolicy(ctx, "404", "POL1001"))
	c, _ = d.Client("1")
	assert.Empty(t, c.Polizas)

	err := d.AddPolicy(ctx, "404", insurance.Policy{Number: "POL1002"}, false)
	assert.True(t, insurance.IsNotFound(err))
}

func TestDocuments_FailNextIsOneShot(t *testing.T) {
	d := store.NewDocuments()
	ctx := context.Background()
	d.FailNext("InsertClient", errInjected)

	assert.ErrorIs(t, d.InsertClient(ctx, insurance.Client{ID: "1", DNI: "1"}), errInjected)
	assert.NoError(t, d.InsertClient(ctx, insurance.Client{ID: "1", DNI: "1"}))
}

// =============================================================================
// GRAPH
// =============================================================================

func TestGraph_CreatePolicyGuard(t *testing.T) {
	g := store.NewGraph()
	g.PutAgent(insurance.Agent{ID: "A1", Activo: true})
	g.PutAgent(insurance.Agent{ID: "A2", Activo: false})
	g.PutUser(insurance.User{ID: "1", Activo: true})
	g.PutPolicy(insurance.Policy{Number: "POL1001", Tipo: insurance.PolicyHogar, Estado: insurance.PolicySuspended}, "1", "A1")
	g.PutPolicy(insurance.Policy{Number: "POL1002", Tipo: insurance.PolicyHogar, Estado: insurance.PolicyActive}, "1", "A1")

	tests := []struct {
		name    string
		agent   string
		tipo    insurance.PolicyType
		created bool
		want    insurance.PolicyDiagnosis
	}{
		{"inactive agent", "A2", insurance.PolicyVida, false, insurance.PolicyDiagnosis{AgentInactive: true}},
		{"missing agent", "A9", insurance.PolicyVida, false, insurance.PolicyDiagnosis{AgentMissing: true}},
		{"active wins over suspended", "A1", insurance.PolicyHogar, false,
			insurance.PolicyDiagnosis{ExistingStatus: insurance.PolicyActive, ExistingNumber: "POL1002"}},
		{"free type", "A1", insurance.PolicySalud, true, insurance.PolicyDiagnosis{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.WithWriteTx(context.Background(), func(ctx context.Context, tx insurance.GraphTx) error {
				created, err := tx.CreatePolicy(ctx, insurance.Policy{Number: "POL2000", Tipo: tt.tipo, Estado: insurance.PolicyActive}, "1", tt.agent)
				require.NoError(t, err)
				assert.Equal(t, tt.created, created)
				if created {
					return errInjected
				}

				d, err := tx.DiagnosePolicy(ctx, "1", tt.agent, tt.tipo)
				require.NoError(t, err)
				assert.Equal(t, tt.want, d)
				return errInjected
			})
			assert.ErrorIs(t, err, errInjected)
		})
	}
	assert.Equal(t, 2, g.CountPolicies(), "aborted transactions leave no trace")
}

func TestGraph_MaxPolicyNumber(t *testing.T) {
	g := store.NewGraph()
	ctx := context.Background()

	err := g.WithWriteTx(ctx, func(ctx context.Context, tx insurance.GraphTx) error {
		_, found, err := tx.MaxPolicyNumber(ctx)
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)

	g.PutPolicy(insurance.Policy{Number: "POL1005"}, "1", "A1")
	g.PutPolicy(insurance.Policy{Number: "POL0999"}, "1", "A1")
	err = g.WithWriteTx(ctx, func(ctx context.Context, tx insurance.GraphTx) error {
		n, found, err := tx.MaxPolicyNumber(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(1005), n)
		return nil
	})
	require.NoError(t, err)
}

func TestGraph_DeleteUserDetachesPolicies(t *testing.T) {
	g := store.NewGraph()
	ctx := context.Background()
	g.PutUser(insurance.User{ID: "1", Activo: true})
	g.PutPolicy(insurance.Policy{Number: "POL1001", Tipo: insurance.PolicyAuto, Estado: insurance.PolicyActive}, "1", "A1")

	require.NoError(t, g.DeleteUser(ctx, "1"))

	_, clientID, agentID, ok := g.Policy("POL1001")
	require.True(t, ok)
	assert.Empty(t, clientID)
	assert.Equal(t, "A1", agentID)
	assert.True(t, insurance.IsNotFound(g.DeleteUser(ctx, "1")))
}

func TestGraph_AccidentsOnDeletedPolicyStillCount(t *testing.T) {
	g := store.NewGraph()
	ctx := context.Background()
	g.PutPolicy(insurance.Policy{Number: "POL1001"}, "1", "A1")

	err := g.WithWriteTx(ctx, func(ctx context.Context, tx insurance.GraphTx) error {
		created, err := tx.CreateAccident(ctx, "POL1001", insurance.Accident{ID: "4", CreatedAt: time.Now()})
		require.NoError(t, err)
		assert.True(t, created)

		created, err = tx.CreateAccident(ctx, "POL4040", insurance.Accident{ID: "5"})
		require.NoError(t, err)
		assert.False(t, created)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, g.DeletePolicy(ctx, "POL1001"))
	require.NoError(t, g.DeletePolicy(ctx, "POL1001"))

	err = g.WithWriteTx(ctx, func(ctx context.Context, tx insurance.GraphTx) error {
		n, err := tx.MaxAccidentID(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n, "detached accidents keep their id")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, g.CountAccidents())
}

func TestGraph_UpsertAgent(t *testing.T) {
	g := store.NewGraph()
	ctx := context.Background()

	require.NoError(t, g.UpsertAgent(ctx, insurance.Agent{ID: "A1", Nombre: "Sofia", Activo: true}))
	require.NoError(t, g.UpsertAgent(ctx, insurance.Agent{ID: "A1", Nombre: "Sofia", Activo: false}))

	a, ok := g.Agent("A1")
	require.True(t, ok)
	assert.False(t, a.Activo)

	g.FailNext("UpsertAgent", errInjected)
	assert.ErrorIs(t, g.UpsertAgent(ctx, insurance.Agent{ID: "A2"}), errInjected)
}

// =============================================================================
// JOURNAL
// =============================================================================

func TestJournal_UpsertKeepsCreatedAt(t *testing.T) {
	j := store.NewJournal()
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, insurance.SagaIntent{ID: "s1", Status: insurance.IntentStarted, CreatedAt: created}))
	require.NoError(t, j.Record(ctx, insurance.SagaIntent{ID: "s1", Status: insurance.IntentCompleted}))

	got, err := j.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, insurance.IntentCompleted, got.Status)
	assert.Equal(t, created, got.CreatedAt)

	missing, err := j.Get(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJournal_ListFilters(t *testing.T) {
	j := store.NewJournal()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, insurance.SagaIntent{ID: "c", Operation: insurance.OpEmitPolicy, Status: insurance.IntentStarted, CreatedAt: base.Add(2 * time.Second)}))
	require.NoError(t, j.Record(ctx, insurance.SagaIntent{ID: "a", Operation: insurance.OpCreateClient, Status: insurance.IntentPrimaryCommitted, CreatedAt: base}))
	require.NoError(t, j.Record(ctx, insurance.SagaIntent{ID: "b", Operation: insurance.OpCreateClient, Status: insurance.IntentCompleted, CreatedAt: base.Add(time.Second)}))

	open, err := j.List(ctx, insurance.IntentFilter{Statuses: []insurance.IntentStatus{insurance.IntentStarted, insurance.IntentPrimaryCommitted}})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "a", open[0].ID)
	assert.Equal(t, "c", open[1].ID)

	creates, err := j.List(ctx, insurance.IntentFilter{Operations: []insurance.Operation{insurance.OpCreateClient}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, creates, 1)
	assert.Equal(t, "a", creates[0].ID)
}
