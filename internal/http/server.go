package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/VerteraIO/edgefleet/internal/controlplane"
	v1 "github.com/VerteraIO/edgefleet/internal/http/v1"
	"github.com/VerteraIO/edgefleet/internal/security"
)

type Deps struct {
	Orchestrator *controlplane.Orchestrator
	Security     *security.Manager
	// Gatherer backs /metrics. Nil means the default Prometheus registry.
	Gatherer       prometheus.Gatherer
	BootstrapQPS   float64
	BootstrapBurst int
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// NewServer builds the root router and mounts all versioned subrouters under /api/{version}.
func NewServer(d Deps) http.Handler {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 60 * time.Second
	}
	r := chi.NewRouter()

	// Global middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(d.Logger.With().Str("component", "http").Logger()))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(d.RequestTimeout))

	r.Get("/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	// Root-level docs: redirect to Swagger UI for v1
	r.Get("/docs", serveRootDocs)

	// Default 404: nudge callers toward versioned paths
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"Use a versioned path like /api/v1/...","supported":["v1"]}`))
	})

	r.Route("/api", func(api chi.Router) {
		api.Mount("/v1", v1.Router(v1.Deps{
			Orchestrator:   d.Orchestrator,
			Security:       d.Security,
			BootstrapQPS:   d.BootstrapQPS,
			BootstrapBurst: d.BootstrapBurst,
		}))
	})

	return r
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	ev := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

// healthz reports liveness. State is memory resident, which callers are told
// explicitly.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"ephemeral_state": true,
	})
}

func serveRootDocs(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/api/v1/docs/index.html", http.StatusFound)
}
