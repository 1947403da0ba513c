package coordinator

import (
	"context"

	"github.com/warp/insurance-engine/insurance"
)

// EmitAccident attaches a new Accident to an existing policy. It touches the
// graph store only, so there is nothing to compensate.
func (c *Coordinator) EmitAccident(ctx context.Context, in insurance.AccidentInput) (AccidentResult, error) {
	if err := insurance.ValidateAccident(in, c.now()); err != nil {
		return AccidentResult{}, c.reject(insurance.OpEmitAccident, err)
	}

	s := c.begin(ctx, insurance.OpEmitAccident, "")

	var id string
	err := c.withAllocationRetry(ctx, s, func() error {
		return c.graph.WithWriteTx(ctx, func(ctx context.Context, tx insurance.GraphTx) error {
			next, err := nextAccidentID(ctx, tx)
			if err != nil {
				return err
			}
			created, err := tx.CreateAccident(ctx, in.PolicyNumber, in.Accident(next, c.now()))
			if err != nil {
				return err
			}
			if !created {
				return &insurance.NotFoundError{Kind: insurance.KindPolicy, ID: in.PolicyNumber}
			}
			id = next
			return nil
		})
	})
	if err != nil {
		return AccidentResult{}, s.primaryFailed(ctx, err)
	}

	s.intent.EntityID = id
	s.completed(ctx)
	return AccidentResult{AccidentID: id}, nil
}
