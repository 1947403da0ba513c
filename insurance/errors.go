/*
errors.go - Error taxonomy for the dual-store coordinator

PURPOSE:
  All error types in one place. Callers classify with errors.Is against the
  sentinels or errors.As against the structured types.

ERROR CATEGORIES:
  1. Input errors   - ValidationError, ConflictError (raised before any write)
  2. Lookup errors  - NotFoundError (client, agent, policy)
  3. Rule errors    - BusinessRuleError (inactive parties, blocking policy)
  4. Saga errors    - SecondaryWriteError (Phase 2 failed after Phase 1),
                      CompensationError (logged and journaled, never returned)
  5. Store errors   - ErrIDCollision (allocated key already taken)

PROPAGATION:
  A SecondaryWriteError unwraps to both ErrSecondaryWrite and the original
  Phase-2 error, so errors.Is(err, storeErr) still holds for the caller.
  It never unwraps to a compensation failure.

SEE ALSO:
  - validation.go: Builds ValidationError
  - coordinator/saga.go: Builds SecondaryWriteError and CompensationError
*/
package insurance

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrConflict = errors.New("uniqueness conflict")

	ErrNotFound = errors.New("not found")

	ErrBusinessRule = errors.New("business rule violated")

	// ErrSecondaryWrite marks a failure of the mirrored write after the
	// primary write committed.
	ErrSecondaryWrite = errors.New("secondary write failed")

	ErrCompensation = errors.New("compensation failed")

	// ErrIDCollision is returned by a store when an allocated identifier
	// violates its uniqueness constraint (concurrent allocation).
	ErrIDCollision = errors.New("identifier already allocated")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError lists every rule an input violated.
type ValidationError struct {
	Entity     string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation errors: %s", e.Entity, strings.Join(e.Violations, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConflictReport collects uniqueness clashes found before a client write.
type ConflictReport struct {
	// DNI is set when the submitted dni is taken; DNIOwner is the holder's
	// id_cliente when known.
	DNI      string `json:"dni,omitempty"`
	DNIOwner string `json:"dni_owner,omitempty"`

	// Plates already registered to some client.
	Plates []PlateOwner `json:"plates,omitempty"`

	// Plates repeated within the submitted batch.
	DuplicatePlates []string `json:"duplicate_plates,omitempty"`

	// Plates the updated client already owns.
	OwnPlates []string `json:"own_plates,omitempty"`
}

func (r ConflictReport) Empty() bool {
	return r.DNI == "" && len(r.Plates) == 0 && len(r.DuplicatePlates) == 0 && len(r.OwnPlates) == 0
}

// ConflictError enumerates every clashing value.
type ConflictError struct {
	Report ConflictReport
}

func (e *ConflictError) Error() string {
	var parts []string
	r := e.Report
	switch {
	case r.DNIOwner != "":
		parts = append(parts, fmt.Sprintf("a client with dni %s already exists (id %s)", r.DNI, r.DNIOwner))
	case r.DNI != "":
		parts = append(parts, fmt.Sprintf("a client with dni %s already exists", r.DNI))
	}
	if len(r.Plates) > 0 {
		plates := make([]string, len(r.Plates))
		for i, p := range r.Plates {
			plates[i] = fmt.Sprintf("%s (client %s)", p.Patente, p.ClientID)
		}
		parts = append(parts, "plates already registered: "+strings.Join(plates, ", "))
	}
	if len(r.DuplicatePlates) > 0 {
		parts = append(parts, "plates repeated in the same request: "+strings.Join(r.DuplicatePlates, ", "))
	}
	if len(r.OwnPlates) > 0 {
		parts = append(parts, "client already has vehicles with plates: "+strings.Join(r.OwnPlates, ", "))
	}
	return strings.Join(parts, "; ")
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Entity kinds used in NotFoundError.
const (
	KindClient = "client"
	KindAgent  = "agent"
	KindPolicy = "policy"
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
	// Store is set when only one store is missing the entity.
	Store string
}

func (e *NotFoundError) Error() string {
	if e.Store != "" {
		return fmt.Sprintf("%s %s not found in %s", e.Kind, e.ID, e.Store)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// Business rules checked while emitting a policy.
const (
	RuleAgentInactive   = "agent_inactive"
	RuleClientInactive  = "client_inactive"
	RuleActivePolicy    = "active_policy_exists"
	RuleSuspendedPolicy = "suspended_policy_exists"
	RuleUnknown         = "unknown"
)

// BusinessRuleError reports a domain rule that blocked a write.
type BusinessRuleError struct {
	Rule           string
	Message        string
	ExistingPolicy string
}

func (e *BusinessRuleError) Error() string {
	return e.Message
}

func (e *BusinessRuleError) Unwrap() error {
	return ErrBusinessRule
}

// SecondaryWriteError wraps the Phase-2 failure of a saga.
type SecondaryWriteError struct {
	Operation string
	Err       error
}

func (e *SecondaryWriteError) Error() string {
	return e.Err.Error()
}

func (e *SecondaryWriteError) Unwrap() []error {
	return []error{ErrSecondaryWrite, e.Err}
}

// CompensationError records a failed reversal of Phase 1.
type CompensationError struct {
	Operation string
	EntityID  string
	Err       error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation of %s for %s failed: %v", e.Operation, e.EntityID, e.Err)
}

func (e *CompensationError) Unwrap() []error {
	return []error{ErrCompensation, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input or
// the current state of the referenced entities.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrBusinessRule)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
