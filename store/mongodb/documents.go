package mongodb

import (
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/warp/insurance-engine/insurance"
)

// =============================================================================
// DOCUMENT SHAPES - the "clientes" collection
// =============================================================================
//
// Amounts are stored as doubles, matching documents written by earlier
// tooling against the same collection.

type clientDoc struct {
	ID        string       `bson:"id_cliente"`
	DNI       string       `bson:"dni"`
	Nombre    string       `bson:"nombre"`
	Apellido  string       `bson:"apellido"`
	Email     string       `bson:"email"`
	Telefono  string       `bson:"telefono,omitempty"`
	Direccion string       `bson:"direccion,omitempty"`
	Ciudad    string       `bson:"ciudad,omitempty"`
	Provincia string       `bson:"provincia,omitempty"`
	Activo    bool         `bson:"activo"`
	Vehiculos []vehicleDoc `bson:"vehiculos"`
	Polizas   []policyDoc  `bson:"polizas"`
}

type vehicleDoc struct {
	ID        string `bson:"id_vehiculo"`
	Marca     string `bson:"marca"`
	Modelo    string `bson:"modelo"`
	Anio      int    `bson:"anio"`
	Patente   string `bson:"patente"`
	NroChasis string `bson:"nro_chasis"`
	Asegurado bool   `bson:"asegurado"`
}

type policyDoc struct {
	Number         string  `bson:"nro_poliza"`
	Tipo           string  `bson:"tipo"`
	FechaInicio    string  `bson:"fecha_inicio"`
	FechaFin       string  `bson:"fecha_fin"`
	PrimaMensual   float64 `bson:"prima_mensual"`
	CoberturaTotal float64 `bson:"cobertura_total"`
	AgentID        string  `bson:"id_agente,omitempty"`
	Estado         string  `bson:"estado"`
}

func toClientDoc(c insurance.Client) clientDoc {
	doc := clientDoc{
		ID:        c.ID,
		DNI:       c.DNI,
		Nombre:    c.Nombre,
		Apellido:  c.Apellido,
		Email:     c.Email,
		Telefono:  c.Telefono,
		Direccion: c.Direccion,
		Ciudad:    c.Ciudad,
		Provincia: c.Provincia,
		Activo:    c.Activo,
		Vehiculos: toVehicleDocs(c.Vehiculos),
		Polizas:   make([]policyDoc, 0, len(c.Polizas)),
	}
	for _, p := range c.Polizas {
		doc.Polizas = append(doc.Polizas, toPolicyDoc(p))
	}
	return doc
}

// toVehicleDocs never returns nil: the array must exist for the
// "vehiculos.$[]" update to apply.
func toVehicleDocs(vs []insurance.Vehicle) []vehicleDoc {
	out := make([]vehicleDoc, 0, len(vs))
	for _, v := range vs {
		out = append(out, vehicleDoc{
			ID:        v.ID,
			Marca:     v.Marca,
			Modelo:    v.Modelo,
			Anio:      v.Anio,
			Patente:   v.Patente,
			NroChasis: v.NroChasis,
			Asegurado: v.Asegurado,
		})
	}
	return out
}

func toPolicyDoc(p insurance.Policy) policyDoc {
	prima, _ := p.PrimaMensual.Float64()
	cobertura, _ := p.CoberturaTotal.Float64()
	return policyDoc{
		Number:         p.Number,
		Tipo:           string(p.Tipo),
		FechaInicio:    p.FechaInicio,
		FechaFin:       p.FechaFin,
		PrimaMensual:   prima,
		CoberturaTotal: cobertura,
		AgentID:        p.AgentID,
		Estado:         string(p.Estado),
	}
}

func (d clientDoc) client() insurance.Client {
	c := insurance.Client{
		ID:        d.ID,
		DNI:       d.DNI,
		Nombre:    d.Nombre,
		Apellido:  d.Apellido,
		Email:     d.Email,
		Telefono:  d.Telefono,
		Direccion: d.Direccion,
		Ciudad:    d.Ciudad,
		Provincia: d.Provincia,
		Activo:    d.Activo,
		Vehiculos: make([]insurance.Vehicle, 0, len(d.Vehiculos)),
		Polizas:   make([]insurance.Policy, 0, len(d.Polizas)),
	}
	for _, v := range d.Vehiculos {
		c.Vehiculos = append(c.Vehiculos, insurance.Vehicle{
			ID:        v.ID,
			Marca:     v.Marca,
			Modelo:    v.Modelo,
			Anio:      v.Anio,
			Patente:   v.Patente,
			NroChasis: v.NroChasis,
			Asegurado: v.Asegurado,
		})
	}
	for _, p := range d.Polizas {
		c.Polizas = append(c.Polizas, insurance.Policy{
			Number:         p.Number,
			Tipo:           insurance.PolicyType(p.Tipo),
			FechaInicio:    p.FechaInicio,
			FechaFin:       p.FechaFin,
			PrimaMensual:   decimal.NewFromFloat(p.PrimaMensual),
			CoberturaTotal: decimal.NewFromFloat(p.CoberturaTotal),
			AgentID:        p.AgentID,
			Estado:         insurance.PolicyStatus(p.Estado),
		})
	}
	return c
}

// updateDocument builds the $set/$push update for a partial client update.
func updateDocument(patch insurance.ClientUpdate, vehicles []insurance.Vehicle) bson.D {
	set := bson.D{}
	str := func(key string, v *string) {
		if v != nil {
			set = append(set, bson.E{Key: key, Value: *v})
		}
	}
	str("nombre", patch.Nombre)
	str("apellido", patch.Apellido)
	str("email", patch.Email)
	str("telefono", patch.Telefono)
	str("direccion", patch.Direccion)
	str("ciudad", patch.Ciudad)
	str("provincia", patch.Provincia)
	if patch.Activo != nil {
		set = append(set, bson.E{Key: "activo", Value: *patch.Activo})
	}

	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(vehicles) > 0 {
		update = append(update, bson.E{Key: "$push", Value: bson.D{
			{Key: "vehiculos", Value: bson.D{{Key: "$each", Value: toVehicleDocs(vehicles)}}},
		}})
	}
	return update
}

// addPolicyDocument pushes the summary and, for Auto policies, marks every
// embedded vehicle insured.
func addPolicyDocument(p insurance.Policy, insureVehicles bool) bson.D {
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "polizas", Value: toPolicyDoc(p)}}},
	}
	if insureVehicles {
		update = append(update, bson.E{Key: "$set", Value: bson.D{{Key: "vehiculos.$[].asegurado", Value: true}}})
	}
	return update
}

// maxNumericPipeline returns the largest numeric value of field across the
// collection, optionally after unwinding an array. Non-numeric values count
// as zero.
func maxNumericPipeline(unwind, field string) bson.A {
	pipeline := bson.A{}
	if unwind != "" {
		pipeline = append(pipeline, bson.D{{Key: "$unwind", Value: "$" + unwind}})
	}
	return append(pipeline,
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "n", Value: bson.D{{Key: "$convert", Value: bson.D{
				{Key: "input", Value: "$" + field},
				{Key: "to", Value: "long"},
				{Key: "onError", Value: int64(0)},
				{Key: "onNull", Value: int64(0)},
			}}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "max", Value: bson.D{{Key: "$max", Value: "$n"}}},
		}}},
	)
}

// platesPipeline lists the owners of any of the given plates.
func platesPipeline(plates []string) bson.A {
	match := bson.D{{Key: "$match", Value: bson.D{
		{Key: "vehiculos.patente", Value: bson.D{{Key: "$in", Value: plates}}},
	}}}
	return bson.A{
		match,
		bson.D{{Key: "$unwind", Value: "$vehiculos"}},
		match,
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "patente", Value: "$vehiculos.patente"},
			{Key: "id_cliente", Value: 1},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "patente", Value: 1}, {Key: "id_cliente", Value: 1}}}},
	}
}
