package coordinator

import (
	"context"
	"fmt"

	"github.com/warp/insurance-engine/insurance"
)

// =============================================================================
// ID ALLOCATION - max(existing) + 1, inside the Phase-1 transaction
// =============================================================================
//
// Allocation is not atomic. Two transactions that read the same maximum
// compute the same next ID; the stores' unique constraints reject the
// loser with ErrIDCollision and withAllocationRetry re-runs its Phase 1.

func nextClientID(ctx context.Context, tx insurance.DocumentTx) (string, error) {
	max, err := tx.MaxClientID(ctx)
	if err != nil {
		return "", fmt.Errorf("allocate id_cliente: %w", err)
	}
	return insurance.FormatID(max + 1), nil
}

// newVehicles assigns consecutive ids to the inputs. Vehicles start
// uninsured; an Auto policy marks them later.
func newVehicles(ctx context.Context, tx insurance.DocumentTx, inputs []insurance.VehicleInput) ([]insurance.Vehicle, error) {
	vehicles := make([]insurance.Vehicle, 0, len(inputs))
	if len(inputs) == 0 {
		return vehicles, nil
	}
	max, err := tx.MaxVehicleID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate id_vehiculo: %w", err)
	}
	for i, in := range inputs {
		vehicles = append(vehicles, insurance.Vehicle{
			ID:        insurance.FormatID(max + int64(i) + 1),
			Marca:     in.Marca,
			Modelo:    in.Modelo,
			Anio:      in.Anio,
			Patente:   in.Patente,
			NroChasis: in.NroChasis,
		})
	}
	return vehicles, nil
}

func nextPolicyNumber(ctx context.Context, tx insurance.GraphTx) (string, error) {
	max, found, err := tx.MaxPolicyNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("allocate nro_poliza: %w", err)
	}
	if !found {
		max = insurance.PolicyNumberBase
	}
	return insurance.FormatPolicyNumber(max + 1), nil
}

func nextAccidentID(ctx context.Context, tx insurance.GraphTx) (string, error) {
	max, err := tx.MaxAccidentID(ctx)
	if err != nil {
		return "", fmt.Errorf("allocate id_siniestro: %w", err)
	}
	return insurance.FormatID(max + 1), nil
}
