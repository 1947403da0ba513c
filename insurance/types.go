/*
Package insurance holds the domain model shared by both stores.

PURPOSE:
  Clients, vehicles, policies, agents and accidents as they are persisted.
  The document store keeps a Client with embedded Vehicles and Policy
  summaries; the graph store keeps User, Agent, Policy and Accident nodes.
  Field tags use the persisted (Spanish) names so JSON payloads, Mongo
  documents and Cypher properties line up.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client / Vehicle / Policy: document-store shapes
  - User / Agent / Accident: graph-store shapes
  - PolicyType, PolicyStatus, AccidentType, AccidentStatus: closed enums
  - ClientInput / ClientUpdate / PolicyInput / AccidentInput: raw requests

MIRRORING:
  A User node carries only id_cliente, nombre, apellido and activo.
  Client.User() derives it so both writes share one projection.

SEE ALSO:
  - validation.go: Rules applied to the input types
  - store.go: Store contracts consumed by the coordinator
  - errors.go: Error taxonomy
*/
package insurance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

type PolicyType string

const (
	PolicyAuto  PolicyType = "Auto"
	PolicyVida  PolicyType = "Vida"
	PolicyHogar PolicyType = "Hogar"
	PolicySalud PolicyType = "Salud"
)

// PolicyTypes lists the accepted policy types in display order.
var PolicyTypes = []PolicyType{PolicyAuto, PolicyVida, PolicyHogar, PolicySalud}

func (t PolicyType) Valid() bool {
	for _, v := range PolicyTypes {
		if v == t {
			return true
		}
	}
	return false
}

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "Activa"
	PolicySuspended PolicyStatus = "Suspendida"
	PolicyExpired   PolicyStatus = "Vencida"
)

var PolicyStatuses = []PolicyStatus{PolicyActive, PolicySuspended, PolicyExpired}

func (s PolicyStatus) Valid() bool {
	for _, v := range PolicyStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Blocking reports whether a policy in this state prevents issuing another
// policy of the same type to the same client.
func (s PolicyStatus) Blocking() bool {
	return s == PolicyActive || s == PolicySuspended
}

type AccidentType string

const (
	AccidentCrash     AccidentType = "Accidente"
	AccidentTheft     AccidentType = "Robo"
	AccidentFire      AccidentType = "Incendio"
	AccidentDamage    AccidentType = "Danio"
	AccidentVandalism AccidentType = "Vandalismo"
)

var AccidentTypes = []AccidentType{AccidentCrash, AccidentTheft, AccidentFire, AccidentDamage, AccidentVandalism}

func (t AccidentType) Valid() bool {
	for _, v := range AccidentTypes {
		if v == t {
			return true
		}
	}
	return false
}

type AccidentStatus string

const (
	AccidentOpen       AccidentStatus = "Abierto"
	AccidentEvaluating AccidentStatus = "En evaluacion"
	AccidentClosed     AccidentStatus = "Cerrado"
)

var AccidentStatuses = []AccidentStatus{AccidentOpen, AccidentEvaluating, AccidentClosed}

func (s AccidentStatus) Valid() bool {
	for _, v := range AccidentStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// DOCUMENT STORE SHAPES
// =============================================================================

// Client is the denormalized client document. It owns its vehicles and
// policy summaries.
type Client struct {
	ID        string    `json:"id_cliente"`
	DNI       string    `json:"dni"`
	Nombre    string    `json:"nombre"`
	Apellido  string    `json:"apellido"`
	Email     string    `json:"email"`
	Telefono  string    `json:"telefono,omitempty"`
	Direccion string    `json:"direccion,omitempty"`
	Ciudad    string    `json:"ciudad,omitempty"`
	Provincia string    `json:"provincia,omitempty"`
	Activo    bool      `json:"activo"`
	Vehiculos []Vehicle `json:"vehiculos"`
	Polizas   []Policy  `json:"polizas"`
}

// User returns the graph projection of the client.
func (c Client) User() User {
	return User{ID: c.ID, Nombre: c.Nombre, Apellido: c.Apellido, Activo: c.Activo}
}

// Clone returns a deep copy; embedded slices are not shared.
func (c Client) Clone() Client {
	out := c
	out.Vehiculos = append([]Vehicle(nil), c.Vehiculos...)
	out.Polizas = append([]Policy(nil), c.Polizas...)
	if out.Vehiculos == nil {
		out.Vehiculos = []Vehicle{}
	}
	if out.Polizas == nil {
		out.Polizas = []Policy{}
	}
	return out
}

// Plates returns the non-empty plates of the client's vehicles.
func (c Client) Plates() []string {
	plates := make([]string, 0, len(c.Vehiculos))
	for _, v := range c.Vehiculos {
		if v.Patente != "" {
			plates = append(plates, v.Patente)
		}
	}
	return plates
}

// Vehicle exists only embedded inside a Client.
type Vehicle struct {
	ID        string `json:"id_vehiculo"`
	Marca     string `json:"marca"`
	Modelo    string `json:"modelo"`
	Anio      int    `json:"anio"`
	Patente   string `json:"patente"`
	NroChasis string `json:"nro_chasis"`
	Asegurado bool   `json:"asegurado"`
}

// Policy is both the embedded summary (with AgentID) and the Policy node
// (which does not store the agent; the ASSIGNED_TO edge does).
type Policy struct {
	Number         string          `json:"nro_poliza"`
	Tipo           PolicyType      `json:"tipo"`
	FechaInicio    string          `json:"fecha_inicio"`
	FechaFin       string          `json:"fecha_fin"`
	PrimaMensual   decimal.Decimal `json:"prima_mensual"`
	CoberturaTotal decimal.Decimal `json:"cobertura_total"`
	AgentID        string          `json:"id_agente,omitempty"`
	Estado         PolicyStatus    `json:"estado"`
}

// =============================================================================
// GRAPH STORE SHAPES
// =============================================================================

// User is the graph mirror of a Client.
type User struct {
	ID       string `json:"id_cliente"`
	Nombre   string `json:"nombre"`
	Apellido string `json:"apellido"`
	Activo   bool   `json:"activo"`
}

// Agent exists only in the graph store.
type Agent struct {
	ID        string `json:"id_agente"`
	Nombre    string `json:"nombre"`
	Apellido  string `json:"apellido"`
	Matricula string `json:"matricula"`
	Telefono  string `json:"telefono"`
	Email     string `json:"email"`
	Zona      string `json:"zona"`
	Activo    bool   `json:"activo"`
}

// Accident exists only in the graph store, attached to a Policy.
type Accident struct {
	ID            string          `json:"id_siniestro"`
	Fecha         string          `json:"fecha"`
	Descripcion   string          `json:"descripcion"`
	MontoEstimado decimal.Decimal `json:"monto_estimado"`
	Estado        AccidentStatus  `json:"estado"`
	Tipo          AccidentType    `json:"tipo"`
	CreatedAt     time.Time       `json:"fecha_creacion"`
}

// PlateOwner reports which client owns a plate.
type PlateOwner struct {
	Patente  string `json:"patente"`
	ClientID string `json:"id_cliente"`
}

// PolicyDiagnosis classifies why a guarded policy write produced no record.
type PolicyDiagnosis struct {
	AgentMissing   bool
	AgentInactive  bool
	ClientMissing  bool
	ClientInactive bool
	ExistingStatus PolicyStatus
	ExistingNumber string
}

// =============================================================================
// INPUTS
// =============================================================================

type VehicleInput struct {
	Marca     string `json:"marca"`
	Modelo    string `json:"modelo"`
	Anio      int    `json:"anio"`
	Patente   string `json:"patente"`
	NroChasis string `json:"nro_chasis"`
}

// ClientInput is a create-client request.
type ClientInput struct {
	Nombre    string         `json:"nombre"`
	Apellido  string         `json:"apellido"`
	DNI       string         `json:"dni"`
	Email     string         `json:"email"`
	Telefono  string         `json:"telefono"`
	Direccion string         `json:"direccion"`
	Ciudad    string         `json:"ciudad"`
	Provincia string         `json:"provincia"`
	Vehiculos []VehicleInput `json:"vehiculos"`
}

// PolicyInput is an emit-policy request. Estado defaults to Activa.
type PolicyInput struct {
	ClientID       string              `json:"id_cliente"`
	AgentID        string              `json:"id_agente"`
	Tipo           PolicyType          `json:"tipo"`
	FechaInicio    string              `json:"fecha_inicio"`
	FechaFin       string              `json:"fecha_fin"`
	PrimaMensual   decimal.NullDecimal `json:"prima_mensual"`
	CoberturaTotal decimal.NullDecimal `json:"cobertura_total"`
	Estado         PolicyStatus        `json:"estado"`
}

// Policy builds the policy value to persist once a number is allocated.
func (in PolicyInput) Policy(number string) Policy {
	estado := in.Estado
	if estado == "" {
		estado = PolicyActive
	}
	return Policy{
		Number:         number,
		Tipo:           in.Tipo,
		FechaInicio:    in.FechaInicio,
		FechaFin:       in.FechaFin,
		PrimaMensual:   in.PrimaMensual.Decimal,
		CoberturaTotal: in.CoberturaTotal.Decimal,
		AgentID:        in.AgentID,
		Estado:         estado,
	}
}

// AccidentInput is an emit-accident request. Estado defaults to Abierto.
type AccidentInput struct {
	PolicyNumber  string              `json:"nro_poliza"`
	Fecha         string              `json:"fecha"`
	Descripcion   string              `json:"descripcion"`
	MontoEstimado decimal.NullDecimal `json:"monto_estimado"`
	Estado        AccidentStatus      `json:"estado"`
	Tipo          AccidentType        `json:"tipo"`
}

// Accident builds the accident value to persist once an ID is allocated.
func (in AccidentInput) Accident(id string, createdAt time.Time) Accident {
	estado := in.Estado
	if estado == "" {
		estado = AccidentOpen
	}
	return Accident{
		ID:            id,
		Fecha:         in.Fecha,
		Descripcion:   in.Descripcion,
		MontoEstimado: in.MontoEstimado.Decimal,
		Estado:        estado,
		Tipo:          in.Tipo,
		CreatedAt:     createdAt.UTC(),
	}
}
