package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/insurance-engine/insurance"
	"github.com/warp/insurance-engine/metrics"
)

// =============================================================================
// ROLLBACK PAYLOADS - journaled when Phase 1 commits
// =============================================================================

type createClientPayload struct {
	ClientID string `json:"id_cliente"`
}

type updateClientPayload struct {
	Original insurance.Client `json:"original"`
}

type deleteClientPayload struct {
	Snapshot insurance.Client `json:"snapshot"`
}

type emitPolicyPayload struct {
	Number   string `json:"nro_poliza"`
	ClientID string `json:"id_cliente"`
}

// RecoveryReport summarizes one Recover pass.
type RecoveryReport struct {
	Recovered int `json:"recovered"`
	Abandoned int `json:"abandoned"`
	Failed    int `json:"failed"`
}

// Recover finishes sagas interrupted by a crash. It must run before the
// coordinator serves requests, since every non-terminal intent is assumed
// to be dead.
//
// An intent still "started" never committed Phase 1 and is marked
// abandoned. An intent at "primary_committed" may or may not have reached
// Phase 2; both stores are rolled back to the state before the operation.
// Every rollback step tolerates the step having already happened.
func (c *Coordinator) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	if c.journal == nil {
		return report, nil
	}

	intents, err := c.journal.List(ctx, insurance.IntentFilter{
		Statuses: []insurance.IntentStatus{insurance.IntentStarted, insurance.IntentPrimaryCommitted},
	})
	if err != nil {
		return report, fmt.Errorf("list pending intents: %w", err)
	}

	for _, intent := range intents {
		logger := c.log.With().
			Str("saga_id", intent.ID).
			Str("operation", string(intent.Operation)).
			Str("entity_id", intent.EntityID).
			Logger()

		switch intent.Status {
		case insurance.IntentStarted:
			intent.Status = insurance.IntentAbandoned
			report.Abandoned++
			logger.Warn().Msg("abandoning saga interrupted before its primary write")

		case insurance.IntentPrimaryCommitted:
			if err := c.rollback(ctx, intent); err != nil {
				intent.Status = insurance.IntentCompensationFailed
				intent.Error = err.Error()
				report.Failed++
				logger.Error().Err(err).Msg("rollback of interrupted saga failed")
				c.metrics.ObserveCompensation(string(intent.Operation), metrics.ResultFailed)
			} else {
				intent.Status = insurance.IntentRecovered
				report.Recovered++
				logger.Info().Msg("interrupted saga rolled back")
				c.metrics.ObserveCompensation(string(intent.Operation), metrics.ResultSucceeded)
			}
		}

		intent.UpdatedAt = c.now().UTC()
		if err := c.journal.Record(ctx, intent); err != nil {
			return report, fmt.Errorf("record recovered intent %s: %w", intent.ID, err)
		}
	}

	if len(intents) > 0 {
		c.log.Info().
			Int("recovered", report.Recovered).
			Int("abandoned", report.Abandoned).
			Int("failed", report.Failed).
			Msg("saga recovery finished")
	}
	return report, nil
}

func (c *Coordinator) rollback(ctx context.Context, intent insurance.SagaIntent) error {
	switch intent.Operation {
	case insurance.OpCreateClient:
		var p createClientPayload
		if err := decodePayload(intent, &p); err != nil {
			return err
		}
		if err := ignoreNotFound(c.docs.DeleteClient(ctx, p.ClientID)); err != nil {
			return fmt.Errorf("delete client document: %w", err)
		}
		if err := ignoreNotFound(c.graph.DeleteUser(ctx, p.ClientID)); err != nil {
			return fmt.Errorf("delete user node: %w", err)
		}

	case insurance.OpUpdateClient:
		var p updateClientPayload
		if err := decodePayload(intent, &p); err != nil {
			return err
		}
		if err := ignoreNotFound(c.docs.ReplaceClient(ctx, p.Original)); err != nil {
			return fmt.Errorf("restore client document: %w", err)
		}
		patch := insurance.PatchFromUser(p.Original.User())
		if err := ignoreNotFound(c.graph.UpdateUser(ctx, p.Original.ID, patch)); err != nil {
			return fmt.Errorf("restore user node: %w", err)
		}

	case insurance.OpDeleteClient:
		var p deleteClientPayload
		if err := decodePayload(intent, &p); err != nil {
			return err
		}
		if _, err := c.docs.GetClient(ctx, p.Snapshot.ID); insurance.IsNotFound(err) {
			if err := c.docs.InsertClient(ctx, p.Snapshot); err != nil {
				return fmt.Errorf("restore client document: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("look up client document: %w", err)
		}
		if err := c.graph.RestoreUser(ctx, p.Snapshot.User()); err != nil {
			return fmt.Errorf("restore user node: %w", err)
		}

	case insurance.OpEmitPolicy:
		var p emitPolicyPayload
		if err := decodePayload(intent, &p); err != nil {
			return err
		}
		if err := c.graph.DeletePolicy(ctx, p.Number); err != nil {
			return fmt.Errorf("delete policy node: %w", err)
		}
		if err := c.docs.RemovePolicy(ctx, p.ClientID, p.Number); err != nil {
			return fmt.Errorf("remove policy summary: %w", err)
		}

	default:
		return fmt.Errorf("no rollback for operation %q", intent.Operation)
	}
	return nil
}

func decodePayload(intent insurance.SagaIntent, dst any) error {
	if len(intent.Payload) == 0 {
		return errors.New("intent has no rollback payload")
	}
	if err := json.Unmarshal(intent.Payload, dst); err != nil {
		return fmt.Errorf("decode rollback payload: %w", err)
	}
	return nil
}

func ignoreNotFound(err error) error {
	if insurance.IsNotFound(err) {
		return nil
	}
	return err
}
