/*
validation.go - Input rules for clients, policies and accidents

PURPOSE:
  Pure predicates run before any store is touched. Every violated rule is
  collected so the caller sees the full list in one ValidationError.

RULES:
  Client:   nombre, apellido, dni, email required; dni digits only; email
            shape; telefono digits with optional leading '+'; vehicles need
            marca, modelo and patente.
  Update:   forbidden keys (id_cliente, dni, polizas, _id); same shapes as
            Client for the fields present; at least one change.
  Policy:   tipo, id_cliente, id_agente, dates, prima and cobertura required;
            enums; positive amounts; fecha_fin strictly after fecha_inicio.
  Accident: nro_poliza (POL<digits>), fecha, tipo, monto_estimado required;
            enums; non-negative amount; fecha not in the future.

DETERMINISM:
  ValidateAccident takes "now" as a parameter; nothing here reads a clock.
*/
package insurance

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	emailRx        = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	digitsRx       = regexp.MustCompile(`^\d+$`)
	phoneRx        = regexp.MustCompile(`^\+?\d+$`)
	policyNumberRx = regexp.MustCompile(`^POL\d+$`)
)

// DateLayouts are the accepted date formats, tried in order.
var DateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

// ParseDate parses a date in any of DateLayouts.
func ParseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range DateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// violations accumulates rule failures for one entity.
type violations struct {
	entity string
	list   []string
}

func (v *violations) add(format string, args ...any) {
	v.list = append(v.list, fmt.Sprintf(format, args...))
}

func (v *violations) err() error {
	if len(v.list) == 0 {
		return nil
	}
	return &ValidationError{Entity: v.entity, Violations: v.list}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// =============================================================================
// CLIENT
// =============================================================================

// ValidateClient checks a create-client request.
func ValidateClient(in ClientInput) error {
	v := &violations{entity: "client"}

	if blank(in.Nombre) {
		v.add("nombre is required")
	}
	if blank(in.Apellido) {
		v.add("apellido is required")
	}
	if in.DNI == "" {
		v.add("dni is required")
	} else if !digitsRx.MatchString(in.DNI) {
		v.add("dni must contain digits only")
	}
	if in.Email == "" {
		v.add("email is required")
	} else if !emailRx.MatchString(in.Email) {
		v.add("email has an invalid format")
	}
	if in.Telefono != "" && !phoneRx.MatchString(in.Telefono) {
		v.add("telefono must contain digits only (optionally with a leading + country code)")
	}
	validateVehicles(v, in.Vehiculos)

	return v.err()
}

// ValidateClientUpdate checks a partial client update.
func ValidateClientUpdate(u ClientUpdate) error {
	v := &violations{entity: "client update"}

	if len(u.forbidden) > 0 {
		v.add("fields cannot be updated: %s", strings.Join(u.forbidden, ", "))
	}
	v.list = append(v.list, u.malformed...)

	if u.Email != nil && !emailRx.MatchString(*u.Email) {
		v.add("email has an invalid format")
	}
	if u.Telefono != nil && *u.Telefono != "" && !phoneRx.MatchString(*u.Telefono) {
		v.add("telefono must contain digits only (optionally with a leading + country code)")
	}
	if u.Nombre != nil && blank(*u.Nombre) {
		v.add("nombre cannot be empty")
	}
	if u.Apellido != nil && blank(*u.Apellido) {
		v.add("apellido cannot be empty")
	}
	validateVehicles(v, u.Vehiculos)

	if len(v.list) == 0 && !u.HasFieldChanges() && len(u.Vehiculos) == 0 {
		v.add("no fields to update")
	}

	return v.err()
}

func validateVehicles(v *violations, vehicles []VehicleInput) {
	for i, vh := range vehicles {
		if blank(vh.Marca) || blank(vh.Modelo) || blank(vh.Patente) {
			v.add("vehicle %d: marca, modelo and patente are required", i+1)
		}
		if vh.Anio < 0 {
			v.add("vehicle %d: anio must be positive", i+1)
		}
	}
}

// =============================================================================
// POLICY
// =============================================================================

// ValidatePolicy checks an emit-policy request.
func ValidatePolicy(in PolicyInput) error {
	v := &violations{entity: "policy"}

	if in.Tipo == "" {
		v.add("tipo is required")
	} else if !in.Tipo.Valid() {
		v.add("tipo must be one of: %s", joinEnum(PolicyTypes))
	}
	if in.ClientID == "" {
		v.add("id_cliente is required")
	}
	if in.AgentID == "" {
		v.add("id_agente is required")
	}
	if in.FechaInicio == "" {
		v.add("fecha_inicio is required")
	}
	if in.FechaFin == "" {
		v.add("fecha_fin is required")
	}
	if !in.PrimaMensual.Valid {
		v.add("prima_mensual is required")
	} else if !in.PrimaMensual.Decimal.IsPositive() {
		v.add("prima_mensual must be a positive number")
	}
	if !in.CoberturaTotal.Valid {
		v.add("cobertura_total is required")
	} else if !in.CoberturaTotal.Decimal.IsPositive() {
		v.add("cobertura_total must be a positive number")
	}
	if in.Estado != "" && !in.Estado.Valid() {
		v.add("estado must be one of: %s", joinEnum(PolicyStatuses))
	}

	if in.FechaInicio != "" && in.FechaFin != "" {
		start, startErr := ParseDate(in.FechaInicio)
		end, endErr := ParseDate(in.FechaFin)
		if startErr != nil {
			v.add("fecha_inicio has an invalid format")
		}
		if endErr != nil {
			v.add("fecha_fin has an invalid format")
		}
		if startErr == nil && endErr == nil && !end.After(start) {
			v.add("fecha_fin must be after fecha_inicio")
		}
	}

	return v.err()
}

// =============================================================================
// ACCIDENT
// =============================================================================

// ValidateAccident checks an emit-accident request against the given clock.
func ValidateAccident(in AccidentInput, now time.Time) error {
	v := &violations{entity: "accident"}

	if in.PolicyNumber == "" {
		v.add("nro_poliza is required")
	} else if !policyNumberRx.MatchString(in.PolicyNumber) {
		v.add("nro_poliza must have the format POLxxxx (e.g. POL1001)")
	}
	if in.Fecha == "" {
		v.add("fecha is required")
	}
	if in.Tipo == "" {
		v.add("tipo is required")
	} else if !in.Tipo.Valid() {
		v.add("tipo must be one of: %s", joinEnum(AccidentTypes))
	}
	if !in.MontoEstimado.Valid {
		v.add("monto_estimado is required")
	} else if in.MontoEstimado.Decimal.IsNegative() {
		v.add("monto_estimado must be a positive number")
	}
	if in.Estado != "" && !in.Estado.Valid() {
		v.add("estado must be one of: %s", joinEnum(AccidentStatuses))
	}

	if in.Fecha != "" {
		fecha, err := ParseDate(in.Fecha)
		if err != nil {
			v.add("fecha has an invalid format")
		} else if fecha.After(now) {
			v.add("fecha cannot be in the future")
		}
	}

	return v.err()
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, val := range values {
		parts[i] = string(val)
	}
	return strings.Join(parts, ", ")
}
