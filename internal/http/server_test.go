package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerteraIO/edgefleet/internal/controlplane"
	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
	"github.com/VerteraIO/edgefleet/internal/security"
)

func newTestServer(t *testing.T) (http.Handler, *controlplane.Orchestrator) {
	t.Helper()
	reg := prometheus.NewRegistry()
	orch := controlplane.New(controlplane.Options{Registry: reg, Logger: zerolog.Nop()})
	sec, err := security.NewManager(security.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return NewServer(Deps{Orchestrator: orch, Security: sec, Gatherer: reg, Logger: zerolog.Nop(), RequestTimeout: time.Second}), orch
}

func TestAPIPrefixEnforced(t *testing.T) {
	s, _ := newTestServer(t)

	// Unversioned path should 404
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1")

	// Versioned path should 200
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nodes", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzMarksStateEphemeral(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["ephemeral_state"])
}

func TestPrometheusEndpoint(t *testing.T) {
	s, orch := newTestServer(t)
	_, err := orch.Nodes.Register(nodes.RegisterRequest{Name: "edge", Address: "10.0.0.1"})
	require.NoError(t, err)
	orch.Monitor.Collect()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "edgefleet_nodes_total 1")
}

func TestDocsAndOpenAPI(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/api/v1/docs/index.html", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")
}
