/*
Package sqlite provides the SQLite-backed saga journal.

PURPOSE:
  Implements insurance.IntentLog. Every dual-store operation records its
  progress here so that a crash between Phase 1 and the end of Phase 2 can
  be rolled back at the next boot (coordinator.Recover).

KEY TABLES:
  saga_intents: One row per saga, upserted as it advances. Finished rows
                are removed by Prune once past the retention window.

INDEXES:
  - idx_saga_intents_status:    Recovery scan (status IN started, primary_committed)
  - idx_saga_intents_created:   Listing in creation order
  - idx_saga_intents_operation: Filtering by operation

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite allows a single writer; the
  mutex keeps writers from tripping SQLITE_BUSY.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so that listing the
  journal over HTTP never blocks the coordinator's writes.

USAGE:
  journal, err := sqlite.New("./data/saga.db")
  if err != nil {
      log.Fatal(err)
  }
  defer journal.Close()

  coord := coordinator.New(docs, graph, coordinator.WithJournal(journal))

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - insurance/store.go: IntentLog contract
  - insurance/store/journal.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/insurance-engine/insurance"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Journal implements insurance.IntentLog using SQLite.
type Journal struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the journal at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Ping checks the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS saga_intents (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		entity_id TEXT,
		status TEXT NOT NULL,
		payload_json TEXT,
		error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_saga_intents_status
		ON saga_intents(status);
	CREATE INDEX IF NOT EXISTS idx_saga_intents_created
		ON saga_intents(created_at, id);
	CREATE INDEX IF NOT EXISTS idx_saga_intents_operation
		ON saga_intents(operation);
	`

	_, err := j.db.Exec(schema)
	return err
}

// =============================================================================
// INTENT LOG (insurance.IntentLog interface)
// =============================================================================

// Record inserts the intent or advances an existing one. created_at is
// never overwritten.
func (j *Journal) Record(ctx context.Context, intent insurance.SagaIntent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `
		INSERT INTO saga_intents (id, operation, entity_id, status, payload_json, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_id = excluded.entity_id,
			status = excluded.status,
			payload_json = excluded.payload_json,
			error = excluded.error,
			updated_at = excluded.updated_at
	`

	createdAt := intent.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := intent.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := j.db.ExecContext(ctx, query,
		intent.ID,
		string(intent.Operation),
		nullString(intent.EntityID),
		string(intent.Status),
		nullString(string(intent.Payload)),
		nullString(intent.Error),
		createdAt.UTC().Format(timeLayout),
		updatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record intent %s: %w", intent.ID, err)
	}
	return nil
}

// Get returns the intent, or nil if it does not exist.
func (j *Journal) Get(ctx context.Context, id string) (*insurance.SagaIntent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	query := `
		SELECT id, operation, entity_id, status, payload_json, error, created_at, updated_at
		FROM saga_intents WHERE id = ?
	`

	rows, err := j.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	intent, err := scanIntent(rows)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// List returns matching intents ordered by creation time.
func (j *Journal) List(ctx context.Context, filter insurance.IntentFilter) ([]insurance.SagaIntent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	if len(filter.Operations) > 0 {
		where = append(where, "operation IN ("+placeholders(len(filter.Operations))+")")
		for _, op := range filter.Operations {
			args = append(args, string(op))
		}
	}

	query := `
		SELECT id, operation, entity_id, status, payload_json, error, created_at, updated_at
		FROM saga_intents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []insurance.SagaIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

// Prune deletes finished intents last updated before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	args := make([]any, 0, len(insurance.PrunableStatuses)+1)
	for _, s := range insurance.PrunableStatuses {
		args = append(args, string(s))
	}
	args = append(args, cutoff.UTC().Format(timeLayout))

	query := `DELETE FROM saga_intents WHERE status IN (` + placeholders(len(insurance.PrunableStatuses)) + `) AND updated_at < ?`

	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune intents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanIntent(rows *sql.Rows) (insurance.SagaIntent, error) {
	var intent insurance.SagaIntent
	var operation, status, createdAt, updatedAt string
	var entityID, payload, errText sql.NullString

	if err := rows.Scan(&intent.ID, &operation, &entityID, &status, &payload, &errText, &createdAt, &updatedAt); err != nil {
		return intent, err
	}

	intent.Operation = insurance.Operation(operation)
	intent.Status = insurance.IntentStatus(status)
	intent.EntityID = entityID.String
	intent.Error = errText.String
	if payload.Valid {
		intent.Payload = []byte(payload.String)
	}
	intent.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	intent.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return intent, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
