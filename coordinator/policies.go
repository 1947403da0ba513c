package coordinator

import (
	"context"
	"fmt"

	"github.com/warp/insurance-engine/insurance"
)

// EmitPolicy creates the Policy node behind the graph guard (active agent,
// active client, no blocking policy of the same type) and then pushes the
// summary into the client document. Auto policies also mark the client's
// vehicles as insured. A failed push deletes the Policy node.
func (c *Coordinator) EmitPolicy(ctx context.Context, in insurance.PolicyInput) (PolicyResult, error) {
	if err := insurance.ValidatePolicy(in); err != nil {
		return PolicyResult{}, c.reject(insurance.OpEmitPolicy, err)
	}

	s := c.begin(ctx, insurance.OpEmitPolicy, "")

	var policy insurance.Policy
	err := c.withAllocationRetry(ctx, s, func() error {
		return c.graph.WithWriteTx(ctx, func(ctx context.Context, tx insurance.GraphTx) error {
			number, err := nextPolicyNumber(ctx, tx)
			if err != nil {
				return err
			}
			p := in.Policy(number)
			created, err := tx.CreatePolicy(ctx, p, in.ClientID, in.AgentID)
			if err != nil {
				return err
			}
			if !created {
				d, err := tx.DiagnosePolicy(ctx, in.ClientID, in.AgentID, in.Tipo)
				if err != nil {
					return fmt.Errorf("diagnose rejected policy: %w", err)
				}
				return policyRejection(in, d)
			}
			policy = p
			return nil
		})
	})
	if err != nil {
		return PolicyResult{}, s.primaryFailed(ctx, err)
	}

	s.primaryCommitted(ctx, policy.Number, emitPolicyPayload{Number: policy.Number, ClientID: in.ClientID})

	insure := policy.Tipo == insurance.PolicyAuto
	if err := c.docs.AddPolicy(ctx, in.ClientID, policy, insure); err != nil {
		return PolicyResult{}, s.secondaryFailed(ctx, err, func(ctx context.Context) error {
			return c.graph.DeletePolicy(ctx, policy.Number)
		})
	}

	s.completed(ctx)
	return PolicyResult{Number: policy.Number}, nil
}

// policyRejection turns a diagnosis into the first applicable error, in the
// order agent, client, existing policy.
func policyRejection(in insurance.PolicyInput, d insurance.PolicyDiagnosis) error {
	switch {
	case d.AgentMissing:
		return &insurance.NotFoundError{Kind: insurance.KindAgent, ID: in.AgentID}
	case d.AgentInactive:
		return &insurance.BusinessRuleError{
			Rule:    insurance.RuleAgentInactive,
			Message: fmt.Sprintf("agent %s is not active", in.AgentID),
		}
	case d.ClientMissing:
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: in.ClientID}
	case d.ClientInactive:
		return &insurance.BusinessRuleError{
			Rule:    insurance.RuleClientInactive,
			Message: fmt.Sprintf("client %s is not active", in.ClientID),
		}
	case d.ExistingStatus == insurance.PolicyActive:
		return &insurance.BusinessRuleError{
			Rule: insurance.RuleActivePolicy,
			Message: fmt.Sprintf("client %s already has an active %s policy (%s); a second one cannot be issued",
				in.ClientID, in.Tipo, d.ExistingNumber),
			ExistingPolicy: d.ExistingNumber,
		}
	case d.ExistingStatus == insurance.PolicySuspended:
		return &insurance.BusinessRuleError{
			Rule: insurance.RuleSuspendedPolicy,
			Message: fmt.Sprintf("client %s has a suspended %s policy (%s); reactivate it or let it expire first",
				in.ClientID, in.Tipo, d.ExistingNumber),
			ExistingPolicy: d.ExistingNumber,
		}
	}
	return &insurance.BusinessRuleError{
		Rule:    insurance.RuleUnknown,
		Message: fmt.Sprintf("policy for client %s was not created: unknown error", in.ClientID),
	}
}
