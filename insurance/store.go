/*
store.go - Store contracts consumed by the coordinator

PURPOSE:
  Defines the boundary between the saga logic and the two databases.
  Neither store can see the other; no transaction spans both.

KEY INTERFACES:
  DocumentStore: Client documents. WithTx gives a session transaction for
                 Phase 1; the plain methods serve Phase 2 and compensation.
  GraphStore:    User/Agent/Policy/Accident nodes. WithWriteTx gives a write
                 transaction for the graph-primary operations.
  IntentLog:     Durable journal of saga progress, used for crash recovery.

ABSENCE CONVENTIONS:
  Transaction lookups (FindClient, FindClientByDNI) return (nil, nil) when
  nothing matches; absence is a normal branch there. Mutations that target
  a single entity return a *NotFoundError when it does not exist.

COLLISIONS:
  InsertClient, CreateUser, CreatePolicy and CreateAccident return an error
  wrapping ErrIDCollision when the allocated key is already taken.

IMPLEMENTATIONS:
  - store/mongodb: DocumentStore on MongoDB
  - store/cypher:  GraphStore on Neo4j
  - store/sqlite:  IntentLog on SQLite
  - insurance/store: in-memory versions of all three, for tests
*/
package insurance

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// DOCUMENT STORE
// =============================================================================

// DocumentTx is the view of the document store inside a session transaction.
type DocumentTx interface {
	FindClient(ctx context.Context, id string) (*Client, error)
	FindClientByDNI(ctx context.Context, dni string) (*Client, error)

	// MaxClientID returns the largest numeric id_cliente, 0 when empty.
	MaxClientID(ctx context.Context) (int64, error)

	// MaxVehicleID returns the largest numeric id_vehiculo across every
	// client's embedded list, 0 when there are none.
	MaxVehicleID(ctx context.Context) (int64, error)

	// FindPlates returns the owners of any of the given plates.
	FindPlates(ctx context.Context, plates []string) ([]PlateOwner, error)

	InsertClient(ctx context.Context, c Client) error

	// UpdateClient applies the scalar fields of patch ($set) and appends
	// vehicles ($push).
	UpdateClient(ctx context.Context, id string, patch ClientUpdate, vehicles []Vehicle) error

	DeleteClient(ctx context.Context, id string) error
}

// DocumentStore holds the Client documents.
type DocumentStore interface {
	// WithTx executes fn within a session transaction.
	// If fn returns error, the transaction is aborted.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx DocumentTx) error) error

	GetClient(ctx context.Context, id string) (*Client, error)
	InsertClient(ctx context.Context, c Client) error
	ReplaceClient(ctx context.Context, c Client) error
	DeleteClient(ctx context.Context, id string) error

	// AddPolicy pushes a policy summary; with insureVehicles every embedded
	// vehicle is marked asegurado.
	AddPolicy(ctx context.Context, clientID string, p Policy, insureVehicles bool) error

	// RemovePolicy pulls a policy summary. Missing summaries are not an error.
	RemovePolicy(ctx context.Context, clientID, number string) error
}

// =============================================================================
// GRAPH STORE
// =============================================================================

// GraphTx is the view of the graph store inside a write transaction.
type GraphTx interface {
	// MaxPolicyNumber returns the largest POL number; found is false when
	// no policy exists yet.
	MaxPolicyNumber(ctx context.Context) (n int64, found bool, err error)

	// CreatePolicy creates the Policy node with HAS_POLICY from the client's
	// User and ASSIGNED_TO from the agent, but only when the agent and the
	// user are active and the user holds no Activa/Suspendida policy of the
	// same type. created is false when the guard rejected the write.
	CreatePolicy(ctx context.Context, p Policy, clientID, agentID string) (created bool, err error)

	// DiagnosePolicy explains why CreatePolicy returned created=false.
	DiagnosePolicy(ctx context.Context, clientID, agentID string, tipo PolicyType) (PolicyDiagnosis, error)

	// MaxAccidentID returns the largest id_siniestro among all accidents,
	// including those whose policy was deleted, 0 when there are none.
	MaxAccidentID(ctx context.Context) (int64, error)

	// CreateAccident attaches a new Accident to the policy. created is false
	// when the policy does not exist.
	CreateAccident(ctx context.Context, policyNumber string, a Accident) (created bool, err error)
}

// GraphStore holds the relationship-centric nodes.
type GraphStore interface {
	// WithWriteTx executes fn within a write transaction.
	WithWriteTx(ctx context.Context, fn func(ctx context.Context, tx GraphTx) error) error

	CreateUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, id string, patch UserPatch) error

	// DeleteUser detaches and deletes the User node. Connected Policy and
	// Accident nodes are kept.
	DeleteUser(ctx context.Context, id string) error

	// RestoreUser creates the User node if missing and sets every mirrored
	// field. Used by crash recovery.
	RestoreUser(ctx context.Context, u User) error

	// DeletePolicy detaches and deletes the Policy node. Missing nodes are
	// not an error.
	DeletePolicy(ctx context.Context, number string) error
}

// =============================================================================
// SAGA JOURNAL
// =============================================================================

// Operation names a dual-store operation.
type Operation string

const (
	OpCreateClient Operation = "create_client"
	OpUpdateClient Operation = "update_client"
	OpDeleteClient Operation = "delete_client"
	OpEmitPolicy   Operation = "emit_policy"
	OpEmitAccident Operation = "emit_accident"
)

// IntentStatus is the progress of a saga.
//
//	started → primary_committed → completed
//	   ↓                        ↘ compensated | compensation_failed
//	 failed | abandoned           recovered (after a crash)
type IntentStatus string

const (
	IntentStarted            IntentStatus = "started"
	IntentPrimaryCommitted   IntentStatus = "primary_committed"
	IntentCompleted          IntentStatus = "completed"
	IntentFailed             IntentStatus = "failed"
	IntentCompensated        IntentStatus = "compensated"
	IntentCompensationFailed IntentStatus = "compensation_failed"
	IntentRecovered          IntentStatus = "recovered"
	IntentAbandoned          IntentStatus = "abandoned"
)

// Terminal reports whether no further action is expected for the intent.
func (s IntentStatus) Terminal() bool {
	return s != IntentStarted && s != IntentPrimaryCommitted
}

// SagaIntent is one journal entry. Payload holds what a rollback needs once
// Phase 1 committed (see coordinator/recovery.go).
type SagaIntent struct {
	ID        string
	Operation Operation
	EntityID  string
	Status    IntentStatus
	Payload   json.RawMessage
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IntentFilter selects journal entries. Empty fields match everything.
type IntentFilter struct {
	Statuses   []IntentStatus
	Operations []Operation
	Limit      int
}

// IntentLog persists saga intents. Record upserts by ID.
type IntentLog interface {
	Record(ctx context.Context, intent SagaIntent) error
	Get(ctx context.Context, id string) (*SagaIntent, error)
	List(ctx context.Context, filter IntentFilter) ([]SagaIntent, error)
}

// PrunableStatuses are the finished states a retention sweep may delete.
// compensation_failed is kept until someone repairs the stores by hand.
var PrunableStatuses = []IntentStatus{
	IntentCompleted, IntentFailed, IntentCompensated, IntentRecovered, IntentAbandoned,
}

// IntentPruner deletes old finished intents.
type IntentPruner interface {
	// Prune removes intents in PrunableStatuses last updated before cutoff
	// and returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}
