package insurance_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/insurance"
)

func decodeUpdate(t *testing.T, raw string) insurance.ClientUpdate {
	t.Helper()
	var u insurance.ClientUpdate
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return u
}

func TestClientUpdate_Decode(t *testing.T) {
	u := decodeUpdate(t, `{"nombre":"Ana","activo":false,"ciudad":"Salta","vehiculos":[{"marca":"VW","modelo":"Gol","anio":2015,"patente":"AB1"}]}`)

	require.NotNil(t, u.Nombre)
	assert.Equal(t, "Ana", *u.Nombre)
	require.NotNil(t, u.Activo)
	assert.False(t, *u.Activo)
	assert.Nil(t, u.Apellido)
	require.Len(t, u.Vehiculos, 1)
	assert.Equal(t, "AB1", u.Vehiculos[0].Patente)
	assert.True(t, u.HasFieldChanges())
	assert.NoError(t, insurance.ValidateClientUpdate(u))
}

func TestClientUpdate_ForbiddenAndMalformed(t *testing.T) {
	// GIVEN: Keys that may never change and values of the wrong type
	// WHEN: Decoding and validating
	// THEN: Decoding succeeds; validation lists every problem

	u := decodeUpdate(t, `{"dni":"1","polizas":[],"_id":"x","activo":"yes","email":42}`)

	err := insurance.ValidateClientUpdate(u)
	require.Error(t, err)
	assert.ErrorIs(t, err, insurance.ErrValidation)

	var verr *insurance.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations, "fields cannot be updated: _id, dni, polizas")
	assert.Contains(t, verr.Violations, "activo must be true or false")
	assert.Contains(t, verr.Violations, "email must be a string")
}

func TestClientUpdate_NullValuesAreMalformed(t *testing.T) {
	// GIVEN: An update sending null for activo and a string field
	// WHEN: Decoding and validating
	// THEN: Neither field is set and both are reported

	u := decodeUpdate(t, `{"activo":null,"nombre":null}`)
	assert.Nil(t, u.Activo)
	assert.Nil(t, u.Nombre)

	err := insurance.ValidateClientUpdate(u)
	var verr *insurance.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations, "activo must be true or false")
	assert.Contains(t, verr.Violations, "nombre must be a string")
}

func TestClientUpdate_UnknownKeysIgnored(t *testing.T) {
	u := decodeUpdate(t, `{"apodo":"Tano"}`)

	assert.False(t, u.HasFieldChanges())
	err := insurance.ValidateClientUpdate(u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fields to update")
}

func TestClientUpdate_NotAnObject(t *testing.T) {
	var u insurance.ClientUpdate
	assert.Error(t, json.Unmarshal([]byte(`["nombre"]`), &u))
}

func TestClientUpdate_Mirror(t *testing.T) {
	email := "x@example.com"
	_, ok := insurance.ClientUpdate{Email: &email}.Mirror()
	assert.False(t, ok, "email is not mirrored")

	apellido := "Paz"
	patch, ok := insurance.ClientUpdate{Email: &email, Apellido: &apellido}.Mirror()
	require.True(t, ok)
	assert.Equal(t, &apellido, patch.Apellido)
	assert.Nil(t, patch.Nombre)
}

func TestClientUpdate_ApplyTo(t *testing.T) {
	c := insurance.Client{ID: "3", Nombre: "Ana", Ciudad: "Salta", Activo: true, Vehiculos: []insurance.Vehicle{{ID: "1"}}}
	nombre, activo := "Ana Maria", false

	insurance.ClientUpdate{Nombre: &nombre, Activo: &activo}.ApplyTo(&c, []insurance.Vehicle{{ID: "2"}})

	assert.Equal(t, "Ana Maria", c.Nombre)
	assert.Equal(t, "Salta", c.Ciudad)
	assert.False(t, c.Activo)
	assert.Len(t, c.Vehiculos, 2)
}

func TestPatchFromUser_RestoresEveryField(t *testing.T) {
	original := insurance.User{ID: "3", Nombre: "Ana", Apellido: "Paz", Activo: true}
	current := insurance.User{ID: "3", Nombre: "X", Apellido: "Y", Activo: false}

	insurance.PatchFromUser(original).ApplyTo(&current)

	assert.Equal(t, original, current)
}

func TestClient_CloneIsDeep(t *testing.T) {
	c := insurance.Client{ID: "1", Vehiculos: []insurance.Vehicle{{ID: "1", Patente: "AA"}}}

	clone := c.Clone()
	clone.Vehiculos[0].Patente = "BB"

	assert.Equal(t, "AA", c.Vehiculos[0].Patente)
	assert.NotNil(t, clone.Polizas)
	assert.Equal(t, []string{"AA"}, c.Plates())
}
