package insurance

import (
	"bytes"
	"encoding/json"
	"sort"
)

// ForbiddenUpdateFields can never be changed through an update.
var ForbiddenUpdateFields = []string{"id_cliente", "dni", "polizas", "_id"}

// ClientUpdate is a partial update of a client. Nil fields are left alone;
// Vehiculos are appended to the client's vehicle list.
type ClientUpdate struct {
	Nombre    *string        `json:"nombre,omitempty"`
	Apellido  *string        `json:"apellido,omitempty"`
	Email     *string        `json:"email,omitempty"`
	Telefono  *string        `json:"telefono,omitempty"`
	Direccion *string        `json:"direccion,omitempty"`
	Ciudad    *string        `json:"ciudad,omitempty"`
	Provincia *string        `json:"provincia,omitempty"`
	Activo    *bool          `json:"activo,omitempty"`
	Vehiculos []VehicleInput `json:"vehiculos,omitempty"`

	// Populated while decoding JSON; reported by ValidateClientUpdate.
	forbidden []string
	malformed []string
}

// UnmarshalJSON decodes field by field so that forbidden keys and
// wrongly-typed values become validation violations instead of decode errors.
func (u *ClientUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = ClientUpdate{}

	strField := func(key string, dst **string) {
		var s string
		if isNull(raw[key]) || json.Unmarshal(raw[key], &s) != nil {
			u.malformed = append(u.malformed, key+" must be a string")
			return
		}
		*dst = &s
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if isForbiddenField(key) {
			u.forbidden = append(u.forbidden, key)
			continue
		}
		switch key {
		case "nombre":
			strField(key, &u.Nombre)
		case "apellido":
			strField(key, &u.Apellido)
		case "email":
			strField(key, &u.Email)
		case "telefono":
			strField(key, &u.Telefono)
		case "direccion":
			strField(key, &u.Direccion)
		case "ciudad":
			strField(key, &u.Ciudad)
		case "provincia":
			strField(key, &u.Provincia)
		case "activo":
			var b bool
			if isNull(raw[key]) || json.Unmarshal(raw[key], &b) != nil {
				u.malformed = append(u.malformed, "activo must be true or false")
				continue
			}
			u.Activo = &b
		case "vehiculos":
			var vs []VehicleInput
			if err := json.Unmarshal(raw[key], &vs); err != nil {
				u.malformed = append(u.malformed, "vehiculos must be an array")
				continue
			}
			u.Vehiculos = vs
		}
	}
	return nil
}

// isNull reports a literal JSON null, which json.Unmarshal accepts silently
// for scalar targets.
func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func isForbiddenField(key string) bool {
	for _, f := range ForbiddenUpdateFields {
		if f == key {
			return true
		}
	}
	return false
}

// HasFieldChanges reports whether any scalar field is set.
func (u ClientUpdate) HasFieldChanges() bool {
	return u.Nombre != nil || u.Apellido != nil || u.Email != nil || u.Telefono != nil ||
		u.Direccion != nil || u.Ciudad != nil || u.Provincia != nil || u.Activo != nil
}

// Mirror returns the subset of the update that the User node carries.
// ok is false when nothing mirrorable changed.
func (u ClientUpdate) Mirror() (patch UserPatch, ok bool) {
	patch = UserPatch{Nombre: u.Nombre, Apellido: u.Apellido, Activo: u.Activo}
	return patch, !patch.Empty()
}

// ApplyTo sets the non-nil fields on c and appends vehicles.
func (u ClientUpdate) ApplyTo(c *Client, vehicles []Vehicle) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.Nombre, u.Nombre)
	set(&c.Apellido, u.Apellido)
	set(&c.Email, u.Email)
	set(&c.Telefono, u.Telefono)
	set(&c.Direccion, u.Direccion)
	set(&c.Ciudad, u.Ciudad)
	set(&c.Provincia, u.Provincia)
	if u.Activo != nil {
		c.Activo = *u.Activo
	}
	c.Vehiculos = append(c.Vehiculos, vehicles...)
}

// UserPatch is a partial update of a User node.
type UserPatch struct {
	Nombre   *string
	Apellido *string
	Activo   *bool
}

func (p UserPatch) Empty() bool {
	return p.Nombre == nil && p.Apellido == nil && p.Activo == nil
}

// ApplyTo sets the non-nil fields on u.
func (p UserPatch) ApplyTo(u *User) {
	if p.Nombre != nil {
		u.Nombre = *p.Nombre
	}
	if p.Apellido != nil {
		u.Apellido = *p.Apellido
	}
	if p.Activo != nil {
		u.Activo = *p.Activo
	}
}

// PatchFromUser builds a patch that restores every mirrored field of u.
func PatchFromUser(u User) UserPatch {
	return UserPatch{Nombre: &u.Nombre, Apellido: &u.Apellido, Activo: &u.Activo}
}
