/*
Package cypher provides the Neo4j-backed graph store.

PURPOSE:
  Implements insurance.GraphStore with parameterized Cypher over the Neo4j
  Go driver. Policy emission runs its guard, number allocation and creation
  inside one managed write transaction (session.ExecuteWrite).

RETRIES:
  ExecuteWrite retries the transaction function on transient errors, so the
  function passed to WithWriteTx may run more than once.

UNIQUENESS:
  EnsureConstraints creates unique constraints on every node key. A
  constraint violation on write is reported as ErrIDCollision.

SEE ALSO:
  - queries.go: All Cypher statements
  - insurance/store.go: GraphStore contract
*/
package cypher

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/warp/insurance-engine/insurance"
)

const (
	codeConstraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

	storeName = "graph store"
)

// Store implements insurance.GraphStore.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	log      zerolog.Logger
}

// Connect opens a driver for uri and verifies connectivity.
func Connect(ctx context.Context, uri, user, password, database string, log zerolog.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}
	return New(driver, database, log), nil
}

// New wraps an existing driver.
func New(driver neo4j.DriverWithContext, database string, log zerolog.Logger) *Store {
	return &Store{
		driver:   driver,
		database: database,
		log:      log.With().Str("component", "neo4j").Logger(),
	}
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureConstraints creates the unique constraints on node keys.
func (s *Store) EnsureConstraints(ctx context.Context) error {
	for _, stmt := range constraints {
		if err := s.exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	s.log.Debug().Int("constraints", len(constraints)).Msg("constraints ensured")
	return nil
}

// UpsertAgent creates or updates an Agent node. Agents are managed outside
// the coordinator; this serves seeding.
func (s *Store) UpsertAgent(ctx context.Context, a insurance.Agent) error {
	return s.exec(ctx, queryUpsertAgent, map[string]any{
		"id_agente": a.ID,
		"nombre":    a.Nombre,
		"apellido":  a.Apellido,
		"matricula": a.Matricula,
		"telefono":  a.Telefono,
		"email":     a.Email,
		"zona":      a.Zona,
		"activo":    a.Activo,
	})
}

// =============================================================================
// TRANSACTION
// =============================================================================

// WithWriteTx executes fn within a managed write transaction.
func (s *Store) WithWriteTx(ctx context.Context, fn func(ctx context.Context, tx insurance.GraphTx) error) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(ctx, &txView{tx: tx})
	})
	return err
}

type txView struct {
	tx neo4j.ManagedTransaction
}

func (t *txView) MaxPolicyNumber(ctx context.Context) (int64, bool, error) {
	return maxInteger(ctx, t.tx, queryMaxPolicyNumber)
}

func (t *txView) CreatePolicy(ctx context.Context, p insurance.Policy, clientID, agentID string) (bool, error) {
	result, err := t.tx.Run(ctx, queryCreatePolicy, policyParams(p, clientID, agentID))
	if err != nil {
		return false, mapError(err, "create policy "+p.Number)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return false, mapError(err, "create policy "+p.Number)
	}
	return len(records) > 0, nil
}

func (t *txView) DiagnosePolicy(ctx context.Context, clientID, agentID string, tipo insurance.PolicyType) (insurance.PolicyDiagnosis, error) {
	result, err := t.tx.Run(ctx, queryDiagnosePolicy, map[string]any{
		"id_cliente": clientID,
		"id_agente":  agentID,
		"tipo":       string(tipo),
	})
	if err != nil {
		return insurance.PolicyDiagnosis{}, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return insurance.PolicyDiagnosis{}, err
	}
	return diagnosisFrom(record.AsMap()), nil
}

func (t *txView) MaxAccidentID(ctx context.Context) (int64, error) {
	n, _, err := maxInteger(ctx, t.tx, queryMaxAccidentID)
	return n, err
}

func (t *txView) CreateAccident(ctx context.Context, policyNumber string, a insurance.Accident) (bool, error) {
	result, err := t.tx.Run(ctx, queryCreateAccident, accidentParams(policyNumber, a))
	if err != nil {
		return false, mapError(err, "create accident "+a.ID)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return false, mapError(err, "create accident "+a.ID)
	}
	return len(records) > 0, nil
}

// =============================================================================
// DIRECT OPERATIONS - Phase 2 and compensation
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u insurance.User) error {
	err := s.exec(ctx, queryCreateUser, userParams(u))
	if err != nil {
		return mapError(err, "create user "+u.ID)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch insurance.UserPatch) error {
	matched, err := s.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (int, error) {
		result, err := tx.Run(ctx, queryUpdateUser, map[string]any{
			"id_cliente": id,
			"props":      userProps(patch),
		})
		if err != nil {
			return 0, err
		}
		records, err := result.Collect(ctx)
		return len(records), err
	})
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}
	if matched == 0 {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id, Store: storeName}
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	deleted, err := s.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (int, error) {
		result, err := tx.Run(ctx, queryDeleteUser, map[string]any{"id_cliente": id})
		if err != nil {
			return 0, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return 0, err
		}
		return summary.Counters().NodesDeleted(), nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	if deleted == 0 {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id, Store: storeName}
	}
	return nil
}

func (s *Store) RestoreUser(ctx context.Context, u insurance.User) error {
	if err := s.exec(ctx, queryRestoreUser, userParams(u)); err != nil {
		return fmt.Errorf("failed to restore user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, number string) error {
	if err := s.exec(ctx, queryDeletePolicy, map[string]any{"nro_poliza": number}); err != nil {
		return fmt.Errorf("failed to delete policy %s: %w", number, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
}

// write runs fn in a managed write transaction and returns its count.
func (s *Store) write(ctx context.Context, fn func(ctx context.Context, tx neo4j.ManagedTransaction) (int, error)) (int, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	n, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return fn(ctx, tx)
	})
	if err != nil {
		return 0, err
	}
	return n.(int), nil
}

// exec runs a statement whose result is not needed.
func (s *Store) exec(ctx context.Context, cypher string, params map[string]any) error {
	_, err := s.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (int, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return 0, err
		}
		_, err = result.Consume(ctx)
		return 0, err
	})
	return err
}

// maxInteger reads a single "max" column; found is false when it is null.
func maxInteger(ctx context.Context, tx neo4j.ManagedTransaction, cypher string) (int64, bool, error) {
	result, err := tx.Run(ctx, cypher, nil)
	if err != nil {
		return 0, false, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, false, err
	}
	value, _ := record.Get("max")
	n, ok := value.(int64)
	return n, ok, nil
}

func policyParams(p insurance.Policy, clientID, agentID string) map[string]any {
	prima, _ := p.PrimaMensual.Float64()
	cobertura, _ := p.CoberturaTotal.Float64()
	return map[string]any{
		"id_cliente":      clientID,
		"id_agente":       agentID,
		"nro_poliza":      p.Number,
		"tipo":            string(p.Tipo),
		"cobertura_total": cobertura,
		"fecha_inicio":    p.FechaInicio,
		"fecha_fin":       p.FechaFin,
		"prima_mensual":   prima,
		"estado":          string(p.Estado),
	}
}

func accidentParams(policyNumber string, a insurance.Accident) map[string]any {
	monto, _ := a.MontoEstimado.Float64()
	return map[string]any{
		"nro_poliza":     policyNumber,
		"id_siniestro":   a.ID,
		"fecha":          a.Fecha,
		"descripcion":    a.Descripcion,
		"monto_estimado": monto,
		"estado":         string(a.Estado),
		"tipo":           string(a.Tipo),
		"fecha_creacion": a.CreatedAt,
	}
}

func userParams(u insurance.User) map[string]any {
	return map[string]any{
		"id_cliente": u.ID,
		"nombre":     u.Nombre,
		"apellido":   u.Apellido,
		"activo":     u.Activo,
	}
}

// userProps keeps only the fields present in the patch, for SET u += $props.
func userProps(p insurance.UserPatch) map[string]any {
	props := make(map[string]any, 3)
	if p.Nombre != nil {
		props["nombre"] = *p.Nombre
	}
	if p.Apellido != nil {
		props["apellido"] = *p.Apellido
	}
	if p.Activo != nil {
		props["activo"] = *p.Activo
	}
	return props
}

func diagnosisFrom(row map[string]any) insurance.PolicyDiagnosis {
	flag := func(key string) bool {
		b, _ := row[key].(bool)
		return b
	}
	text := func(key string) string {
		s, _ := row[key].(string)
		return s
	}
	return insurance.PolicyDiagnosis{
		AgentMissing:   flag("agent_missing"),
		AgentInactive:  flag("agent_inactive"),
		ClientMissing:  flag("client_missing"),
		ClientInactive: flag("client_inactive"),
		ExistingStatus: insurance.PolicyStatus(text("existing_status")),
		ExistingNumber: text("existing_number"),
	}
}

// mapError reports unique-constraint violations as ErrIDCollision.
func mapError(err error, op string) error {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && nerr.Code == codeConstraintViolation {
		return fmt.Errorf("%s: %w", op, insurance.ErrIDCollision)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
