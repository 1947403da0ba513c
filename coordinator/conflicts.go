package coordinator

import (
	"context"
	"fmt"

	"github.com/warp/insurance-engine/insurance"
)

// =============================================================================
// CONFLICT CHECKS - run inside the document transaction before any write
// =============================================================================

// checkNewClient reports every clash a new client would cause: an existing
// dni, plates already registered anywhere, and plates repeated in the input.
func checkNewClient(ctx context.Context, tx insurance.DocumentTx, in insurance.ClientInput) (insurance.ConflictReport, error) {
	var report insurance.ConflictReport

	existing, err := tx.FindClientByDNI(ctx, in.DNI)
	if err != nil {
		return report, fmt.Errorf("check dni: %w", err)
	}
	if existing != nil {
		report.DNI = in.DNI
		report.DNIOwner = existing.ID
	}

	plates := submittedPlates(in.Vehiculos)
	if len(plates) == 0 {
		return report, nil
	}
	owners, err := tx.FindPlates(ctx, uniquePlates(plates))
	if err != nil {
		return report, fmt.Errorf("check plates: %w", err)
	}
	report.Plates = owners
	report.DuplicatePlates = repeatedPlates(plates)
	return report, nil
}

// checkAddedVehicles reports clashes for vehicles appended to target:
// plates owned by other clients, plates target already has, and plates
// repeated in the input.
func checkAddedVehicles(ctx context.Context, tx insurance.DocumentTx, target insurance.Client, vehicles []insurance.VehicleInput) (insurance.ConflictReport, error) {
	var report insurance.ConflictReport

	plates := submittedPlates(vehicles)
	if len(plates) == 0 {
		return report, nil
	}
	unique := uniquePlates(plates)

	owners, err := tx.FindPlates(ctx, unique)
	if err != nil {
		return report, fmt.Errorf("check plates: %w", err)
	}
	for _, o := range owners {
		if o.ClientID != target.ID {
			report.Plates = append(report.Plates, o)
		}
	}

	own := make(map[string]bool)
	for _, p := range target.Plates() {
		own[p] = true
	}
	for _, p := range unique {
		if own[p] {
			report.OwnPlates = append(report.OwnPlates, p)
		}
	}

	report.DuplicatePlates = repeatedPlates(plates)
	return report, nil
}

func submittedPlates(vehicles []insurance.VehicleInput) []string {
	plates := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		if v.Patente != "" {
			plates = append(plates, v.Patente)
		}
	}
	return plates
}

// uniquePlates keeps the first occurrence of each plate, in input order.
func uniquePlates(plates []string) []string {
	seen := make(map[string]bool, len(plates))
	out := make([]string, 0, len(plates))
	for _, p := range plates {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// repeatedPlates lists each plate that appears more than once, once.
func repeatedPlates(plates []string) []string {
	counts := make(map[string]int, len(plates))
	for _, p := range plates {
		counts[p]++
	}
	var out []string
	for _, p := range uniquePlates(plates) {
		if counts[p] > 1 {
			out = append(out, p)
		}
	}
	return out
}
