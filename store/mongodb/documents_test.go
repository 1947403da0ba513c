package mongodb

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/warp/insurance-engine/insurance"
)

func TestClientDoc_KeepsEmptyArrays(t *testing.T) {
	// GIVEN: A client with nil vehicle and policy slices
	// WHEN: Converting it to a document
	// THEN: Both arrays are present and empty, so array updates apply

	doc := toClientDoc(insurance.Client{ID: "1", DNI: "30111222"})

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	vehicles, err := bson.Raw(raw).LookupErr("vehiculos")
	require.NoError(t, err)
	assert.Equal(t, bson.TypeArray, vehicles.Type)
	polizas, err := bson.Raw(raw).LookupErr("polizas")
	require.NoError(t, err)
	assert.Equal(t, bson.TypeArray, polizas.Type)
}

func TestClientDoc_AmountsAsDoubles(t *testing.T) {
	c := insurance.Client{
		ID: "1",
		Polizas: []insurance.Policy{{
			Number:         "POL1001",
			Tipo:           insurance.PolicyAuto,
			PrimaMensual:   decimal.RequireFromString("15000.5"),
			CoberturaTotal: decimal.RequireFromString("3000000"),
			Estado:         insurance.PolicyActive,
		}},
	}

	doc := toClientDoc(c)
	assert.Equal(t, 15000.5, doc.Polizas[0].PrimaMensual)

	back := doc.client()
	require.Len(t, back.Polizas, 1)
	assert.True(t, back.Polizas[0].PrimaMensual.Equal(c.Polizas[0].PrimaMensual))
	assert.True(t, back.Polizas[0].CoberturaTotal.Equal(c.Polizas[0].CoberturaTotal))
	assert.Equal(t, insurance.PolicyAuto, back.Polizas[0].Tipo)
}

func TestUpdateDocument_SetsOnlyPresentFields(t *testing.T) {
	nombre := "Ana"
	activo := false
	update := updateDocument(insurance.ClientUpdate{Nombre: &nombre, Activo: &activo}, nil)

	require.Len(t, update, 1)
	assert.Equal(t, "$set", update[0].Key)
	assert.Equal(t, bson.D{{Key: "nombre", Value: "Ana"}, {Key: "activo", Value: false}}, update[0].Value)
}

func TestUpdateDocument_PushesVehicles(t *testing.T) {
	update := updateDocument(insurance.ClientUpdate{}, []insurance.Vehicle{{ID: "8", Patente: "AA111AA"}})

	require.Len(t, update, 1)
	assert.Equal(t, "$push", update[0].Key)
	push := update[0].Value.(bson.D)
	each := push[0].Value.(bson.D)
	assert.Equal(t, "$each", each[0].Key)
	assert.Equal(t, []vehicleDoc{{ID: "8", Patente: "AA111AA"}}, each[0].Value)
}

func TestAddPolicyDocument_AutoInsuresVehicles(t *testing.T) {
	p := insurance.Policy{Number: "POL1001", Tipo: insurance.PolicyAuto}

	withVehicles := addPolicyDocument(p, true)
	require.Len(t, withVehicles, 2)
	assert.Equal(t, "$set", withVehicles[1].Key)
	assert.Equal(t, bson.D{{Key: "vehiculos.$[].asegurado", Value: true}}, withVehicles[1].Value)

	plain := addPolicyDocument(p, false)
	require.Len(t, plain, 1)
	assert.Equal(t, "$push", plain[0].Key)
}

func TestMapWriteError(t *testing.T) {
	dup := func(index string) error {
		return mongo.WriteException{WriteErrors: mongo.WriteErrors{{
			Code:    11000,
			Message: "E11000 duplicate key error collection: aseguradora.clientes index: " + index + " dup key",
		}}}
	}

	assert.ErrorIs(t, mapWriteError(dup(indexClientID), "insert client 4"), insurance.ErrIDCollision)
	assert.ErrorIs(t, mapWriteError(dup(indexVehicleID), "update client 4"), insurance.ErrIDCollision)

	other := mapWriteError(errors.New("socket closed"), "insert client 4")
	assert.NotErrorIs(t, other, insurance.ErrIDCollision)
	assert.Contains(t, other.Error(), "insert client 4")
}
