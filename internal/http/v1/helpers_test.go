package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/VerteraIO/edgefleet/internal/controlplane"
	httpserver "github.com/VerteraIO/edgefleet/internal/http"
	"github.com/VerteraIO/edgefleet/internal/security"
)

const (
	adminID    = "admin"
	adminToken = "admin-secret"
)

type env struct {
	ts   *httptest.Server
	orch *controlplane.Orchestrator
	sec  *security.Manager
}

func newEnv(t *testing.T, burst int) *env {
	t.Helper()
	reg := prometheus.NewRegistry()
	orch := controlplane.New(controlplane.Options{
		StalenessThreshold: 2 * time.Minute,
		SweepPeriod:        time.Minute,
		TickPeriod:         time.Minute,
		CollectPeriod:      time.Minute,
		Registry:           reg,
		Logger:             zerolog.Nop(),
	})
	sec, err := security.NewManager(security.Options{
		SigningSecret: []byte("test-secret"),
		TokenTTL:      time.Hour,
		AdminID:       adminID,
		AdminToken:    adminToken,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(httpserver.NewServer(httpserver.Deps{
		Orchestrator:   orch,
		Security:       sec,
		Gatherer:       reg,
		BootstrapQPS:   1,
		BootstrapBurst: burst,
		Logger:         zerolog.Nop(),
	}))
	t.Cleanup(ts.Close)
	return &env{ts: ts, orch: orch, sec: sec}
}

type creds struct{ id, token string }

var admin = creds{id: adminID, token: adminToken}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. It returns the status code.
func (e *env) do(t *testing.T, method, path string, c *creds, body, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+"/api/v1"+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if c != nil {
		req.Header.Set("X-Node-ID", c.id)
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if len(data) > 0 {
			require.NoError(t, json.Unmarshal(data, out), string(data))
		}
	}
	return resp.StatusCode
}

type errBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}
