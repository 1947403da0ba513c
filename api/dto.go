/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Request bodies for clients, policies and accidents decode straight into
  the insurance input types, whose JSON names are the persisted field
  names. The types here cover what has no domain counterpart: journal
  entries, agent upserts, health and errors.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
  - insurance/types.go: ClientInput, PolicyInput, AccidentInput
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/insurance-engine/insurance"
)

// SagaDTO is one journal entry.
type SagaDTO struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	EntityID  string          `json:"entity_id,omitempty"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// AgentRequest is the body of PUT /api/agents/{id}.
type AgentRequest struct {
	Nombre    string `json:"nombre"`
	Apellido  string `json:"apellido"`
	Matricula string `json:"matricula"`
	Telefono  string `json:"telefono"`
	Email     string `json:"email"`
	Zona      string `json:"zona"`
	Activo    *bool  `json:"activo"`
}

// HealthDTO reports each store's reachability.
type HealthDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSagaDTO(intent insurance.SagaIntent) SagaDTO {
	return SagaDTO{
		ID:        intent.ID,
		Operation: string(intent.Operation),
		EntityID:  intent.EntityID,
		Status:    string(intent.Status),
		Payload:   intent.Payload,
		Error:     intent.Error,
		CreatedAt: intent.CreatedAt.Format(time.RFC3339),
		UpdatedAt: intent.UpdatedAt.Format(time.RFC3339),
	}
}

func toSagaDTOs(intents []insurance.SagaIntent) []SagaDTO {
	dtos := make([]SagaDTO, len(intents))
	for i, intent := range intents {
		dtos[i] = toSagaDTO(intent)
	}
	return dtos
}

func (req AgentRequest) agent(id string) insurance.Agent {
	activo := true
	if req.Activo != nil {
		activo = *req.Activo
	}
	return insurance.Agent{
		ID:        id,
		Nombre:    req.Nombre,
		Apellido:  req.Apellido,
		Matricula: req.Matricula,
		Telefono:  req.Telefono,
		Email:     req.Email,
		Zona:      req.Zona,
		Activo:    activo,
	}
}
