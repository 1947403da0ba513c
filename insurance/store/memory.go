// Package store provides in-memory implementations of the insurance store
// contracts, with one-shot fault injection for exercising saga failures.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/insurance-engine/insurance"
)

// =============================================================================
// FAULT INJECTION
// =============================================================================

// faults holds one-shot errors keyed by operation name. Operation names are
// the method names; methods of the transaction views are prefixed "tx.".
type faults struct {
	mu     sync.Mutex
	queued map[string]error
}

// FailNext makes the next call of op return err.
func (f *faults) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queued == nil {
		f.queued = make(map[string]error)
	}
	f.queued[op] = err
}

func (f *faults) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.queued[op]
	delete(f.queued, op)
	return err
}

// =============================================================================
// DOCUMENTS - In-memory DocumentStore
// =============================================================================

type Documents struct {
	faults
	mu      sync.Mutex
	clients map[string]insurance.Client
	writes  int
}

func NewDocuments() *Documents {
	return &Documents{clients: make(map[string]insurance.Client)}
}

// Put stores a client directly, bypassing every check.
func (d *Documents) Put(c insurance.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[c.ID] = c.Clone()
}

// Client returns a copy of the stored client.
func (d *Documents) Client(id string) (insurance.Client, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[id]
	return c.Clone(), ok
}

// Len returns the number of stored clients.
func (d *Documents) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// Writes returns the number of committed mutations.
func (d *Documents) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// WithTx runs fn against a private copy and swaps it in on success.
func (d *Documents) WithTx(ctx context.Context, fn func(ctx context.Context, tx insurance.DocumentTx) error) error {
	if err := d.take("WithTx"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := &docTx{faults: &d.faults, clients: cloneClients(d.clients)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	d.clients = tx.clients
	d.writes += tx.writes
	return nil
}

func (d *Documents) GetClient(_ context.Context, id string) (*insurance.Client, error) {
	if err := d.take("GetClient"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[id]
	if !ok {
		return nil, &insurance.NotFoundError{Kind: insurance.KindClient, ID: id}
	}
	out := c.Clone()
	return &out, nil
}

func (d *Documents) InsertClient(_ context.Context, c insurance.Client) error {
	if err := d.take("InsertClient"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := insertClient(d.clients, c); err != nil {
		return err
	}
	d.writes++
	return nil
}

func (d *Documents) ReplaceClient(_ context.Context, c insurance.Client) error {
	if err := d.take("ReplaceClient"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clients[c.ID]; !ok {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: c.ID}
	}
	d.clients[c.ID] = c.Clone()
	d.writes++
	return nil
}

func (d *Documents) DeleteClient(_ context.Context, id string) error {
	if err := d.take("DeleteClient"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clients[id]; !ok {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id}
	}
	delete(d.clients, id)
	d.writes++
	return nil
}

func (d *Documents) AddPolicy(_ context.Context, clientID string, p insurance.Policy, insureVehicles bool) error {
	if err := d.take("AddPolicy"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[clientID]
	if !ok {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: clientID, Store: "document store"}
	}
	c = c.Clone()
	c.Polizas = append(c.Polizas, p)
	if insureVehicles {
		for i := range c.Vehiculos {
			c.Vehiculos[i].Asegurado = true
		}
	}
	d.clients[clientID] = c
	d.writes++
	return nil
}

func (d *Documents) RemovePolicy(_ context.Context, clientID, number string) error {
	if err := d.take("RemovePolicy"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[clientID]
	if !ok {
		return nil
	}
	kept := c.Polizas[:0:0]
	for _, p := range c.Polizas {
		if p.Number != number {
			kept = append(kept, p)
		}
	}
	if len(kept) != len(c.Polizas) {
		c = c.Clone()
		c.Polizas = kept
		d.clients[clientID] = c
		d.writes++
	}
	return nil
}

func insertClient(clients map[string]insurance.Client, c insurance.Client) error {
	if _, exists := clients[c.ID]; exists {
		return fmt.Errorf("insert client %s: %w", c.ID, insurance.ErrIDCollision)
	}
	for _, other := range clients {
		if other.DNI == c.DNI {
			return &insurance.ConflictError{Report: insurance.ConflictReport{DNI: c.DNI, DNIOwner: other.ID}}
		}
	}
	clients[c.ID] = c.Clone()
	return nil
}

func cloneClients(in map[string]insurance.Client) map[string]insurance.Client {
	out := make(map[string]insurance.Client, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

// docTx is the transaction view over a private copy of the clients.
type docTx struct {
	*faults
	clients map[string]insurance.Client
	writes  int
}

func (t *docTx) FindClient(_ context.Context, id string) (*insurance.Client, error) {
	if err := t.take("tx.FindClient"); err != nil {
		return nil, err
	}
	c, ok := t.clients[id]
	if !ok {
		return nil, nil
	}
	out := c.Clone()
	return &out, nil
}

func (t *docTx) FindClientByDNI(_ context.Context, dni string) (*insurance.Client, error) {
	if err := t.take("tx.FindClientByDNI"); err != nil {
		return nil, err
	}
	for _, c := range t.clients {
		if c.DNI == dni {
			out := c.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (t *docTx) MaxClientID(_ context.Context) (int64, error) {
	if err := t.take("tx.MaxClientID"); err != nil {
		return 0, err
	}
	var max int64
	for id := range t.clients {
		if n := insurance.ParseID(id); n > max {
			max = n
		}
	}
	return max, nil
}

func (t *docTx) MaxVehicleID(_ context.Context) (int64, error) {
	if err := t.take("tx.MaxVehicleID"); err != nil {
		return 0, err
	}
	var max int64
	for _, c := range t.clients {
		for _, v := range c.Vehiculos {
			if n := insurance.ParseID(v.ID); n > max {
				max = n
			}
		}
	}
	return max, nil
}

func (t *docTx) FindPlates(_ context.Context, plates []string) ([]insurance.PlateOwner, error) {
	if err := t.take("tx.FindPlates"); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(plates))
	for _, p := range plates {
		want[p] = true
	}
	var owners []insurance.PlateOwner
	for _, c := range t.clients {
		for _, v := range c.Vehiculos {
			if want[v.Patente] {
				owners = append(owners, insurance.PlateOwner{Patente: v.Patente, ClientID: c.ID})
			}
		}
	}
	sort.Slice(owners, func(i, j int) bool {
		if owners[i].Patente != owners[j].Patente {
			return owners[i].Patente < owners[j].Patente
		}
		return owners[i].ClientID < owners[j].ClientID
	})
	return owners, nil
}

func (t *docTx) InsertClient(_ context.Context, c insurance.Client) error {
	if err := t.take("tx.InsertClient"); err != nil {
		return err
	}
	if err := insertClient(t.clients, c); err != nil {
		return err
	}
	t.writes++
	return nil
}

func (t *docTx) UpdateClient(_ context.Context, id string, patch insurance.ClientUpdate, vehicles []insurance.Vehicle) error {
	if err := t.take("tx.UpdateClient"); err != nil {
		return err
	}
	c, ok := t.clients[id]
	if !ok {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id}
	}
	c = c.Clone()
	patch.ApplyTo(&c, vehicles)
	t.clients[id] = c
	t.writes++
	return nil
}

func (t *docTx) DeleteClient(_ context.Context, id string) error {
	if err := t.take("tx.DeleteClient"); err != nil {
		return err
	}
	if _, ok := t.clients[id]; !ok {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id}
	}
	delete(t.clients, id)
	t.writes++
	return nil
}
