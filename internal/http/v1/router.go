package v1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	openapi "github.com/VerteraIO/edgefleet/api/openapi"
	"github.com/VerteraIO/edgefleet/internal/controlplane"
	"github.com/VerteraIO/edgefleet/internal/security"
)

type Deps struct {
	Orchestrator   *controlplane.Orchestrator
	Security       *security.Manager
	BootstrapQPS   float64
	BootstrapBurst int
}

type api struct {
	orch *controlplane.Orchestrator
	sec  *security.Manager
}

// Router returns the chi.Router for REST API v1.
func Router(d Deps) chi.Router {
	a := &api{orch: d.Orchestrator, sec: d.Security}
	bootstrap := newIPLimiter(d.BootstrapQPS, d.BootstrapBurst).middleware
	r := chi.NewRouter()

	// Docs (Swagger UI) and the OpenAPI document under the versioned prefix
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/api/v1/openapi.yaml"),
	))
	r.Get("/openapi.yaml", serveOpenAPIStaticAsset)

	// Bootstrap operations: no credential yet, rate limited per client address
	r.Group(func(r chi.Router) {
		r.Use(bootstrap)
		r.Post("/nodes/register", a.registerNode)
		r.Post("/nodes/{nodeId}/token", a.issueToken)
		r.Post("/certificates/issue", a.issueCertificate)
	})

	// Open reads
	r.Get("/nodes", a.listNodes)
	r.Get("/nodes/{nodeId}", a.getNode)
	r.Get("/nodes/{nodeId}/metrics", a.nodeMetrics)
	r.Get("/workloads", a.listWorkloads)
	r.Get("/workloads/{workloadId}", a.getWorkload)
	r.Get("/workloads/{workloadId}/metrics", a.workloadMetrics)
	r.Get("/metrics", a.aggregateMetrics)
	r.Post("/tokens/validate", a.validateToken)
	r.Post("/certificates/validate", a.validateCertificate)

	// Authenticated operations
	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)
		r.With(a.requireSelfOrAdmin("nodeId")).Post("/nodes/{nodeId}/heartbeat", a.heartbeat)
		r.With(a.requireSelfOrAdmin("nodeId")).Delete("/nodes/{nodeId}", a.unregisterNode)
		r.With(a.requireSelfOrAdmin("nodeId")).Delete("/nodes/{nodeId}/token", a.revokeToken)
		r.With(a.requireSelfOrAdmin("nodeId")).Get("/nodes/{nodeId}/certificates", a.listNodeCertificates)
		r.Post("/workloads", a.createWorkload)
		r.Post("/workloads/{workloadId}/scale", a.scaleWorkload)
		r.Post("/workloads/{workloadId}/schedule", a.scheduleWorkload)
		r.Delete("/workloads/{workloadId}", a.deleteWorkload)
		r.Get("/certificates/{certificateId}", a.getCertificate)
		r.Post("/certificates/revoke", a.revokeCertificate)
	})

	return r
}

func serveOpenAPIStaticAsset(w http.ResponseWriter, r *http.Request) {
	data, err := openapi.FS.ReadFile("v1/edgefleet.yaml")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read openapi document: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(data)
}
