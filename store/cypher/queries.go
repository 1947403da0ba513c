package cypher

// =============================================================================
// CYPHER
// =============================================================================
//
// Labels: User, Agent, Policy, Accident.
// Edges:  (User)-[:HAS_POLICY]->(Policy)
//         (Agent)-[:ASSIGNED_TO]->(Policy)
//         (Policy)-[:HAS_ACCIDENT]->(Accident)

var constraints = []string{
	`CREATE CONSTRAINT user_id_cliente IF NOT EXISTS FOR (u:User) REQUIRE u.id_cliente IS UNIQUE`,
	`CREATE CONSTRAINT agent_id_agente IF NOT EXISTS FOR (a:Agent) REQUIRE a.id_agente IS UNIQUE`,
	`CREATE CONSTRAINT policy_nro_poliza IF NOT EXISTS FOR (p:Policy) REQUIRE p.nro_poliza IS UNIQUE`,
	`CREATE CONSTRAINT accident_id_siniestro IF NOT EXISTS FOR (s:Accident) REQUIRE s.id_siniestro IS UNIQUE`,
}

const (
	queryMaxPolicyNumber = `
		MATCH (p:Policy)
		WHERE p.nro_poliza STARTS WITH 'POL'
		RETURN max(toInteger(substring(p.nro_poliza, 3))) AS max`

	// Creates nothing unless the agent and user are active and the user has
	// no Activa/Suspendida policy of the same type.
	queryCreatePolicy = `
		MATCH (a:Agent {id_agente: $id_agente})
		WHERE a.activo = true
		MATCH (u:User {id_cliente: $id_cliente})
		WHERE u.activo = true
		OPTIONAL MATCH (u)-[:HAS_POLICY]->(existing:Policy)
		WHERE existing.tipo = $tipo AND existing.estado IN ['Activa', 'Suspendida']
		WITH a, u, count(existing) AS blocking
		WHERE blocking = 0
		CREATE (p:Policy {
			nro_poliza: $nro_poliza,
			tipo: $tipo,
			cobertura_total: $cobertura_total,
			fecha_inicio: $fecha_inicio,
			fecha_fin: $fecha_fin,
			prima_mensual: $prima_mensual,
			estado: $estado
		})
		CREATE (u)-[:HAS_POLICY]->(p)
		CREATE (a)-[:ASSIGNED_TO]->(p)
		RETURN p.nro_poliza AS nro_poliza`

	// An active existing policy is reported ahead of a suspended one.
	queryDiagnosePolicy = `
		OPTIONAL MATCH (a:Agent {id_agente: $id_agente})
		OPTIONAL MATCH (u:User {id_cliente: $id_cliente})
		OPTIONAL MATCH (u)-[:HAS_POLICY]->(existing:Policy)
		WHERE existing.tipo = $tipo AND existing.estado IN ['Activa', 'Suspendida']
		RETURN
			a IS NULL AS agent_missing,
			a IS NOT NULL AND coalesce(a.activo, false) <> true AS agent_inactive,
			u IS NULL AS client_missing,
			u IS NOT NULL AND coalesce(u.activo, false) <> true AS client_inactive,
			existing.estado AS existing_status,
			existing.nro_poliza AS existing_number
		ORDER BY CASE existing_status WHEN 'Activa' THEN 0 WHEN 'Suspendida' THEN 1 ELSE 2 END
		LIMIT 1`

	queryMaxAccidentID = `
		MATCH (s:Accident)
		RETURN max(toInteger(s.id_siniestro)) AS max`

	queryCreateAccident = `
		MATCH (p:Policy {nro_poliza: $nro_poliza})
		CREATE (s:Accident {
			id_siniestro: $id_siniestro,
			fecha: $fecha,
			descripcion: $descripcion,
			monto_estimado: $monto_estimado,
			estado: $estado,
			tipo: $tipo,
			fecha_creacion: $fecha_creacion
		})
		CREATE (p)-[:HAS_ACCIDENT]->(s)
		RETURN s.id_siniestro AS id_siniestro`

	queryCreateUser = `
		CREATE (u:User {
			id_cliente: $id_cliente,
			nombre: $nombre,
			apellido: $apellido,
			activo: $activo
		})`

	queryUpdateUser = `
		MATCH (u:User {id_cliente: $id_cliente})
		SET u += $props
		RETURN u.id_cliente AS id_cliente`

	// Policy and Accident nodes reached from the user are kept.
	queryDeleteUser = `
		MATCH (u:User {id_cliente: $id_cliente})
		DETACH DELETE u`

	queryRestoreUser = `
		MERGE (u:User {id_cliente: $id_cliente})
		SET u.nombre = $nombre, u.apellido = $apellido, u.activo = $activo`

	queryDeletePolicy = `
		MATCH (p:Policy {nro_poliza: $nro_poliza})
		DETACH DELETE p`

	queryUpsertAgent = `
		MERGE (a:Agent {id_agente: $id_agente})
		SET a.nombre = $nombre, a.apellido = $apellido, a.matricula = $matricula,
			a.telefono = $telefono, a.email = $email, a.zona = $zona, a.activo = $activo`
)
