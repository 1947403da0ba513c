/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Status mapping of every coordinator error category
- Client, policy and accident round trips over the in-memory stores
- Journal listing, agent upsert, health and metrics endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/coordinator"
	"github.com/warp/insurance-engine/insurance"
	"github.com/warp/insurance-engine/insurance/store"
	"github.com/warp/insurance-engine/metrics"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router  http.Handler
	docs    *store.Documents
	graph   *store.Graph
	journal *store.Journal
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		docs:    store.NewDocuments(),
		graph:   store.NewGraph(),
		journal: store.NewJournal(),
	}

	saga := metrics.NewSaga()
	reg, err := metrics.NewRegistry(saga)
	require.NoError(t, err)

	coord := coordinator.New(s.docs, s.graph,
		coordinator.WithJournal(s.journal),
		coordinator.WithMetrics(saga),
		coordinator.WithClock(func() time.Time { return testNow }),
	)

	h := NewHandler(coord, s.docs)
	h.Agents = s.graph
	h.Journal = s.journal
	h.Gatherer = reg
	s.router = NewRouter(h)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func clientBody(dni string, plates ...string) map[string]any {
	vehicles := make([]map[string]any, 0, len(plates))
	for _, p := range plates {
		vehicles = append(vehicles, map[string]any{
			"marca": "Ford", "modelo": "Ka", "anio": 2019, "patente": p, "nro_chasis": "CH-" + p,
		})
	}
	return map[string]any{
		"nombre":    "Martin",
		"apellido":  "Gomez",
		"dni":       dni,
		"email":     "martin@example.com",
		"vehiculos": vehicles,
	}
}

func policyBody(clientID, agentID, tipo string) map[string]any {
	return map[string]any{
		"id_cliente":      clientID,
		"id_agente":       agentID,
		"tipo":            tipo,
		"fecha_inicio":    "2025-01-01",
		"fecha_fin":       "2026-01-01",
		"prima_mensual":   12000.5,
		"cobertura_total": "2500000",
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

// =============================================================================
// CLIENTS
// =============================================================================

func TestCreateClient_Created(t *testing.T) {
	// GIVEN: Empty stores
	// WHEN: Posting a valid client
	// THEN: 201 with the new id, readable back through GET

	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/clients", clientBody("28999111", "AA111BB"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "1", decode[coordinator.ClientResult](t, rec).ClientID)

	rec = s.do(t, http.MethodGet, "/api/clients/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	client := decode[insurance.Client](t, rec)
	assert.Equal(t, "28999111", client.DNI)
	require.Len(t, client.Vehiculos, 1)
	assert.Equal(t, "AA111BB", client.Vehiculos[0].Patente)
	assert.Empty(t, client.Polizas)
}

func TestCreateClient_ValidationIs400(t *testing.T) {
	s := newTestServer(t)

	body := clientBody("12ab")
	body["email"] = "not-an-email"
	rec := s.do(t, http.MethodPost, "/api/clients", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", resp.Code)
	assert.ElementsMatch(t, []any{"dni must contain digits only", "email has an invalid format"}, resp.Details)
	assert.Equal(t, 0, s.docs.Len())
}

func TestCreateClient_MalformedBodyIs400(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/clients", `{"nombre":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateClient_ConflictIs409(t *testing.T) {
	// GIVEN: A client with dni 28999111 owning plate AA111BB
	// WHEN: Another client reuses the dni and the plate
	// THEN: 409 with both clashes in the report

	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", clientBody("28999111", "AA111BB")).Code)

	rec := s.do(t, http.MethodPost, "/api/clients", clientBody("28999111", "AA111BB"))

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[struct {
		Code    string                   `json:"code"`
		Details insurance.ConflictReport `json:"details"`
	}](t, rec)
	assert.Equal(t, "conflict", resp.Code)
	assert.Equal(t, "28999111", resp.Details.DNI)
	assert.Equal(t, "1", resp.Details.DNIOwner)
	assert.Equal(t, []insurance.PlateOwner{{Patente: "AA111BB", ClientID: "1"}}, resp.Details.Plates)
	assert.Equal(t, 1, s.docs.Len())
}

func TestCreateClient_SecondaryFailureIs502(t *testing.T) {
	// GIVEN: The graph store will refuse the next User
	// WHEN: Creating a client
	// THEN: 502, and the document was compensated away

	s := newTestServer(t)
	s.graph.FailNext("CreateUser", errors.New("bolt connection lost"))

	rec := s.do(t, http.MethodPost, "/api/clients", clientBody("28999111"))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "secondary_write_failed", resp.Code)
	assert.Contains(t, resp.Error, "bolt connection lost")
	assert.Equal(t, 0, s.docs.Len())
}

func TestGetClient_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/clients/99", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "client_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestUpdateClient(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", clientBody("28999111")).Code)

	t.Run("mirrored field", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, "/api/clients/1", `{"apellido":"Gomez Paz"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		user, ok := s.graph.User("1")
		require.True(t, ok)
		assert.Equal(t, "Gomez Paz", user.Apellido)
	})

	t.Run("forbidden field", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, "/api/clients/1", `{"dni":"1"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[ErrorResponse](t, rec).Error, "dni")
	})

	t.Run("missing client", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, "/api/clients/42", `{"nombre":"X"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDeleteClient(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", clientBody("28999111")).Code)

	rec := s.do(t, http.MethodDelete, "/api/clients/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", decode[coordinator.ClientResult](t, rec).ClientID)

	assert.Equal(t, 0, s.docs.Len())
	_, ok := s.graph.User("1")
	assert.False(t, ok)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/clients/1", nil).Code)
}

func TestDeleteClient_SecondaryNotFoundIs502(t *testing.T) {
	// GIVEN: A client whose User node turns out to be missing
	// WHEN: Deleting the client
	// THEN: 502, not 404, and the document is back in place

	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", clientBody("28999111")).Code)
	s.graph.FailNext("DeleteUser", &insurance.NotFoundError{Kind: insurance.KindClient, ID: "1", Store: "graph store"})

	rec := s.do(t, http.MethodDelete, "/api/clients/1", nil)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "secondary_write_failed", decode[ErrorResponse](t, rec).Code)
	_, ok := s.docs.Client("1")
	assert.True(t, ok, "document restored by compensation")
}

// =============================================================================
// POLICIES AND ACCIDENTS
// =============================================================================

func TestEmitPolicyAndAccident(t *testing.T) {
	// GIVEN: An agent seeded over the API and a client with one vehicle
	// WHEN: Emitting an Auto policy, then a second one, then an accident
	// THEN: 201 POL1001, 422 naming POL1001, 201 accident "1"

	s := newTestServer(t)
	rec := s.do(t, http.MethodPut, "/api/agents/A1", map[string]any{"nombre": "Sofia", "apellido": "Ruiz"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", clientBody("28999111", "AA111BB")).Code)

	rec = s.do(t, http.MethodPost, "/api/policies", policyBody("1", "A1", "Auto"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "POL1001", decode[coordinator.PolicyResult](t, rec).Number)

	client, ok := s.docs.Client("1")
	require.True(t, ok)
	require.Len(t, client.Polizas, 1)
	assert.True(t, client.Vehiculos[0].Asegurado)

	rec = s.do(t, http.MethodPost, "/api/policies", policyBody("1", "A1", "Auto"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, insurance.RuleActivePolicy, resp.Code)
	assert.Equal(t, map[string]any{"nro_poliza": "POL1001"}, resp.Details)

	rec = s.do(t, http.MethodPost, "/api/accidents", map[string]any{
		"nro_poliza":     "POL1001",
		"fecha":          "2025-05-30",
		"descripcion":    "Robo de autopartes",
		"monto_estimado": 180000,
		"tipo":           "Robo",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "1", decode[coordinator.AccidentResult](t, rec).AccidentID)
}

func TestEmitPolicy_UnknownAgentIs404(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", clientBody("28999111")).Code)

	rec := s.do(t, http.MethodPost, "/api/policies", policyBody("1", "NOPE", "Vida"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "agent_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestEmitAccident_UnknownPolicyIs404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/accidents", map[string]any{
		"nro_poliza":     "POL4040",
		"fecha":          "2025-05-30",
		"monto_estimado": 1000,
		"tipo":           "Incendio",
	})

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "policy_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestUpsertAgent_RequiresNames(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/agents/A9", map[string]any{"zona": "Norte"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, ok := s.graph.Agent("A9")
	assert.False(t, ok)
}

func TestUpsertAgent_ActivoDefaultsTrue(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/agents/A2", map[string]any{"nombre": "Juan", "apellido": "Diaz"})
	require.Equal(t, http.StatusOK, rec.Code)

	agent, ok := s.graph.Agent("A2")
	require.True(t, ok)
	assert.True(t, agent.Activo)

	rec = s.do(t, http.MethodPut, "/api/agents/A2", map[string]any{"nombre": "Juan", "apellido": "Diaz", "activo": false})
	require.Equal(t, http.StatusOK, rec.Code)
	agent, _ = s.graph.Agent("A2")
	assert.False(t, agent.Activo)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestListSagas(t *testing.T) {
	// GIVEN: One completed create and one compensated create
	// WHEN: Listing with and without a status filter
	// THEN: The filter narrows the journal entries

	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", clientBody("28999111")).Code)
	s.graph.FailNext("CreateUser", errors.New("timeout"))
	require.Equal(t, http.StatusBadGateway, s.do(t, http.MethodPost, "/api/clients", clientBody("28999222")).Code)

	rec := s.do(t, http.MethodGet, "/api/sagas", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SagaDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/sagas?status=compensated", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sagas := decode[[]SagaDTO](t, rec)
	require.Len(t, sagas, 1)
	assert.Equal(t, "create_client", sagas[0].Operation)
	assert.Equal(t, "timeout", sagas[0].Error)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/sagas?status=bogus", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/sagas?limit=0", nil).Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	h := NewHandler(nil, s.docs)
	h.Checks = map[string]Pinger{
		"mongodb": fakePinger{},
		"neo4j":   fakePinger{err: errors.New("unreachable")},
	}
	router := NewRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[HealthDTO](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["mongodb"])
	assert.Equal(t, "unreachable", resp.Checks["neo4j"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", clientBody("28999111")).Code)

	rec := s.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `insurance_saga_operations_total{operation="create_client",outcome="completed"} 1`)
}

func TestRouter_OptionalEndpointsOff(t *testing.T) {
	h := NewHandler(nil, store.NewDocuments())
	router := NewRouter(h)

	for _, path := range []string{"/metrics", "/api/sagas"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
