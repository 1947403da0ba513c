package coordinator

import (
	"context"

	"github.com/warp/insurance-engine/insurance"
)

// CreateClient inserts the client document with its vehicles, then mirrors
// it as a User node. A failed mirror deletes the inserted document.
func (c *Coordinator) CreateClient(ctx context.Context, in insurance.ClientInput) (ClientResult, error) {
	if err := insurance.ValidateClient(in); err != nil {
		return ClientResult{}, c.reject(insurance.OpCreateClient, err)
	}

	s := c.begin(ctx, insurance.OpCreateClient, "")

	var created insurance.Client
	err := c.withAllocationRetry(ctx, s, func() error {
		return c.docs.WithTx(ctx, func(ctx context.Context, tx insurance.DocumentTx) error {
			report, err := checkNewClient(ctx, tx, in)
			if err != nil {
				return err
			}
			if !report.Empty() {
				return &insurance.ConflictError{Report: report}
			}

			id, err := nextClientID(ctx, tx)
			if err != nil {
				return err
			}
			vehicles, err := newVehicles(ctx, tx, in.Vehiculos)
			if err != nil {
				return err
			}

			client := newClient(id, in, vehicles)
			if err := tx.InsertClient(ctx, client); err != nil {
				return err
			}
			created = client
			return nil
		})
	})
	if err != nil {
		return ClientResult{}, s.primaryFailed(ctx, err)
	}

	s.primaryCommitted(ctx, created.ID, createClientPayload{ClientID: created.ID})

	if err := c.graph.CreateUser(ctx, created.User()); err != nil {
		return ClientResult{}, s.secondaryFailed(ctx, err, func(ctx context.Context) error {
			return c.docs.DeleteClient(ctx, created.ID)
		})
	}

	s.completed(ctx)
	return ClientResult{ClientID: created.ID}, nil
}

func newClient(id string, in insurance.ClientInput, vehicles []insurance.Vehicle) insurance.Client {
	return insurance.Client{
		ID:        id,
		DNI:       in.DNI,
		Nombre:    in.Nombre,
		Apellido:  in.Apellido,
		Email:     in.Email,
		Telefono:  in.Telefono,
		Direccion: in.Direccion,
		Ciudad:    in.Ciudad,
		Provincia: in.Provincia,
		Activo:    true,
		Vehiculos: vehicles,
		Polizas:   []insurance.Policy{},
	}
}

// UpdateClient applies a partial update to the document and mirrors the
// nombre/apellido/activo subset onto the User node. When the mirror fails
// the whole original document is written back.
func (c *Coordinator) UpdateClient(ctx context.Context, id string, update insurance.ClientUpdate) (ClientResult, error) {
	if err := insurance.ValidateClientUpdate(update); err != nil {
		return ClientResult{}, c.reject(insurance.OpUpdateClient, err)
	}

	s := c.begin(ctx, insurance.OpUpdateClient, id)

	var original insurance.Client
	err := c.withAllocationRetry(ctx, s, func() error {
		return c.docs.WithTx(ctx, func(ctx context.Context, tx insurance.DocumentTx) error {
			current, err := tx.FindClient(ctx, id)
			if err != nil {
				return err
			}
			if current == nil {
				return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id}
			}

			var vehicles []insurance.Vehicle
			if len(update.Vehiculos) > 0 {
				report, err := checkAddedVehicles(ctx, tx, *current, update.Vehiculos)
				if err != nil {
					return err
				}
				if !report.Empty() {
					return &insurance.ConflictError{Report: report}
				}
				if vehicles, err = newVehicles(ctx, tx, update.Vehiculos); err != nil {
					return err
				}
			}

			if err := tx.UpdateClient(ctx, id, update, vehicles); err != nil {
				return err
			}
			original = current.Clone()
			return nil
		})
	})
	if err != nil {
		return ClientResult{}, s.primaryFailed(ctx, err)
	}

	patch, mirrored := update.Mirror()
	if !mirrored {
		s.completed(ctx)
		return ClientResult{ClientID: id}, nil
	}

	s.primaryCommitted(ctx, id, updateClientPayload{Original: original})

	if err := c.graph.UpdateUser(ctx, id, patch); err != nil {
		return ClientResult{}, s.secondaryFailed(ctx, err, func(ctx context.Context) error {
			return c.docs.ReplaceClient(ctx, original)
		})
	}

	s.completed(ctx)
	return ClientResult{ClientID: id}, nil
}

// DeleteClient removes the document (with its embedded vehicles and policy
// summaries) and then the User node with its edges. Policy and Accident
// nodes stay in the graph. A failed graph delete re-inserts the snapshot.
func (c *Coordinator) DeleteClient(ctx context.Context, id string) (ClientResult, error) {
	s := c.begin(ctx, insurance.OpDeleteClient, id)

	var snapshot insurance.Client
	err := c.docs.WithTx(ctx, func(ctx context.Context, tx insurance.DocumentTx) error {
		current, err := tx.FindClient(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id}
		}
		if err := tx.DeleteClient(ctx, id); err != nil {
			return err
		}
		snapshot = current.Clone()
		return nil
	})
	if err != nil {
		return ClientResult{}, s.primaryFailed(ctx, err)
	}

	s.primaryCommitted(ctx, id, deleteClientPayload{Snapshot: snapshot})

	if err := c.graph.DeleteUser(ctx, id); err != nil {
		return ClientResult{}, s.secondaryFailed(ctx, err, func(ctx context.Context) error {
			return c.docs.InsertClient(ctx, snapshot)
		})
	}

	s.completed(ctx)
	return ClientResult{ClientID: id}, nil
}
