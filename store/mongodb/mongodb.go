/*
Package mongodb provides the MongoDB-backed document store.

PURPOSE:
  Implements insurance.DocumentStore over the "clientes" collection. Each
  client is one document embedding its vehicles and policy summaries.

TRANSACTIONS:
  WithTx runs the callback inside a session transaction
  (session.WithTransaction). The callback receives the session context, so
  every call made through the DocumentTx joins the transaction.
  Transactions need a replica set or sharded cluster.

UNIQUENESS:
  Unique indexes back the allocation race:
  - uniq_id_cliente:  id_cliente            → ErrIDCollision
  - uniq_id_vehiculo: vehiculos.id_vehiculo → ErrIDCollision (partial)
  - uniq_dni:         dni                   → ConflictError
  Call EnsureIndexes once at startup.

SEE ALSO:
  - documents.go: BSON shapes and update/pipeline builders
  - insurance/store.go: DocumentStore contract
*/
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/warp/insurance-engine/insurance"
)

const (
	// CollectionClients holds one document per client.
	CollectionClients = "clientes"

	indexClientID  = "uniq_id_cliente"
	indexVehicleID = "uniq_id_vehiculo"
	indexDNI       = "uniq_dni"

	storeName = "document store"
)

// Store implements insurance.DocumentStore.
type Store struct {
	client  *mongo.Client
	clients *mongo.Collection
	log     zerolog.Logger
}

// Connect dials uri and verifies the connection.
func Connect(ctx context.Context, uri, database string, log zerolog.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return New(client, database, log), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string, log zerolog.Logger) *Store {
	return &Store{
		client:  client,
		clients: client.Database(database).Collection(CollectionClients),
		log:     log.With().Str("component", "mongodb").Logger(),
	}
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the unique indexes the coordinator relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id_cliente", Value: 1}},
			Options: options.Index().SetName(indexClientID).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "dni", Value: 1}},
			Options: options.Index().SetName(indexDNI).SetUnique(true),
		},
		{
			// Partial so that clients without vehicles do not collide on a
			// missing key.
			Keys: bson.D{{Key: "vehiculos.id_vehiculo", Value: 1}},
			Options: options.Index().SetName(indexVehicleID).SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "vehiculos.id_vehiculo", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
		{
			Keys:    bson.D{{Key: "vehiculos.patente", Value: 1}},
			Options: options.Index().SetName("idx_patente"),
		},
	}
	names, err := s.clients.Indexes().CreateMany(ctx, models)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	s.log.Debug().Strs("indexes", names).Msg("indexes ensured")
	return nil
}

// =============================================================================
// TRANSACTION
// =============================================================================

// WithTx executes fn within a session transaction.
// If fn returns error, the transaction is aborted.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx insurance.DocumentTx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &txView{clients: s.clients})
	})
	return err
}

// txView runs every call with the session context it is given.
type txView struct {
	clients *mongo.Collection
}

func (t *txView) FindClient(ctx context.Context, id string) (*insurance.Client, error) {
	return findOne(ctx, t.clients, bson.D{{Key: "id_cliente", Value: id}})
}

func (t *txView) FindClientByDNI(ctx context.Context, dni string) (*insurance.Client, error) {
	return findOne(ctx, t.clients, bson.D{{Key: "dni", Value: dni}})
}

func (t *txView) MaxClientID(ctx context.Context) (int64, error) {
	return maxNumeric(ctx, t.clients, maxNumericPipeline("", "id_cliente"))
}

func (t *txView) MaxVehicleID(ctx context.Context) (int64, error) {
	return maxNumeric(ctx, t.clients, maxNumericPipeline("vehiculos", "vehiculos.id_vehiculo"))
}

func (t *txView) FindPlates(ctx context.Context, plates []string) ([]insurance.PlateOwner, error) {
	if len(plates) == 0 {
		return nil, nil
	}
	cursor, err := t.clients.Aggregate(ctx, platesPipeline(plates))
	if err != nil {
		return nil, fmt.Errorf("failed to look up plates: %w", err)
	}
	var rows []struct {
		Patente  string `bson:"patente"`
		ClientID string `bson:"id_cliente"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to read plates: %w", err)
	}
	owners := make([]insurance.PlateOwner, 0, len(rows))
	for _, r := range rows {
		owners = append(owners, insurance.PlateOwner{Patente: r.Patente, ClientID: r.ClientID})
	}
	return owners, nil
}

func (t *txView) InsertClient(ctx context.Context, c insurance.Client) error {
	return insertClient(ctx, t.clients, c)
}

func (t *txView) UpdateClient(ctx context.Context, id string, patch insurance.ClientUpdate, vehicles []insurance.Vehicle) error {
	update := updateDocument(patch, vehicles)
	if len(update) == 0 {
		return nil
	}
	res, err := t.clients.UpdateOne(ctx, bson.D{{Key: "id_cliente", Value: id}}, update)
	if err != nil {
		return mapWriteError(err, "update client "+id)
	}
	if res.MatchedCount == 0 {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id}
	}
	return nil
}

func (t *txView) DeleteClient(ctx context.Context, id string) error {
	return deleteClient(ctx, t.clients, id)
}

// =============================================================================
// DIRECT OPERATIONS - Phase 2 and compensation
// =============================================================================

func (s *Store) GetClient(ctx context.Context, id string) (*insurance.Client, error) {
	c, err := findOne(ctx, s.clients, bson.D{{Key: "id_cliente", Value: id}})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &insurance.NotFoundError{Kind: insurance.KindClient, ID: id}
	}
	return c, nil
}

func (s *Store) InsertClient(ctx context.Context, c insurance.Client) error {
	return insertClient(ctx, s.clients, c)
}

func (s *Store) ReplaceClient(ctx context.Context, c insurance.Client) error {
	res, err := s.clients.ReplaceOne(ctx, bson.D{{Key: "id_cliente", Value: c.ID}}, toClientDoc(c))
	if err != nil {
		return mapWriteError(err, "replace client "+c.ID)
	}
	if res.MatchedCount == 0 {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: c.ID, Store: storeName}
	}
	return nil
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	return deleteClient(ctx, s.clients, id)
}

func (s *Store) AddPolicy(ctx context.Context, clientID string, p insurance.Policy, insureVehicles bool) error {
	res, err := s.clients.UpdateOne(ctx, bson.D{{Key: "id_cliente", Value: clientID}}, addPolicyDocument(p, insureVehicles))
	if err != nil {
		return fmt.Errorf("failed to add policy %s: %w", p.Number, err)
	}
	if res.MatchedCount == 0 {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: clientID, Store: storeName}
	}
	return nil
}

func (s *Store) RemovePolicy(ctx context.Context, clientID, number string) error {
	_, err := s.clients.UpdateOne(ctx,
		bson.D{{Key: "id_cliente", Value: clientID}},
		bson.D{{Key: "$pull", Value: bson.D{{Key: "polizas", Value: bson.D{{Key: "nro_poliza", Value: number}}}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to remove policy %s: %w", number, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func findOne(ctx context.Context, coll *mongo.Collection, filter bson.D) (*insurance.Client, error) {
	var doc clientDoc
	err := coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find client: %w", err)
	}
	c := doc.client()
	return &c, nil
}

func insertClient(ctx context.Context, coll *mongo.Collection, c insurance.Client) error {
	if _, err := coll.InsertOne(ctx, toClientDoc(c)); err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), indexDNI) {
			return &insurance.ConflictError{Report: insurance.ConflictReport{DNI: c.DNI}}
		}
		return mapWriteError(err, "insert client "+c.ID)
	}
	return nil
}

func deleteClient(ctx context.Context, coll *mongo.Collection, id string) error {
	res, err := coll.DeleteOne(ctx, bson.D{{Key: "id_cliente", Value: id}})
	if err != nil {
		return fmt.Errorf("failed to delete client %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id}
	}
	return nil
}

func maxNumeric(ctx context.Context, coll *mongo.Collection, pipeline bson.A) (int64, error) {
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate max id: %w", err)
	}
	var rows []struct {
		Max int64 `bson:"max"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("failed to read max id: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Max, nil
}

// mapWriteError turns duplicate keys on the identifier indexes into
// ErrIDCollision.
func mapWriteError(err error, op string) error {
	if mongo.IsDuplicateKeyError(err) {
		msg := err.Error()
		if strings.Contains(msg, indexClientID) || strings.Contains(msg, indexVehicleID) {
			return fmt.Errorf("%s: %w", op, insurance.ErrIDCollision)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
