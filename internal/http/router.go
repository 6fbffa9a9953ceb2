// Package httpapi assembles the HTTP surface: middleware chain, admission
// control per endpoint class, and feature handler registration.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	agenthandler "arp/internal/agent/handler"
	"arp/internal/fanout"
	policyhandler "arp/internal/policy/handler"
	"arp/internal/ratelimit"
	rlmodels "arp/internal/ratelimit/models"
	"arp/pkg/platform/httputil"
	"arp/pkg/platform/middleware/metadata"
	"arp/pkg/platform/middleware/requestid"
	"arp/pkg/platform/middleware/requesttime"
)

// HealthCheck probes one dependency; a non-nil error marks it degraded.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the wired components the router mounts.
type Deps struct {
	Agents    *agenthandler.Handler
	Policy    *policyhandler.Handler
	Fanout    *fanout.Handler
	Admission *ratelimit.Middleware
	Health    []HealthCheck
}

// New assembles the router. Admission control wraps the API routes per
// endpoint class; health, metrics, and the event stream sit outside it.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/health", healthHandler(deps.Health))
	r.Handle("/metrics", promhttp.Handler())
	deps.Fanout.Register(r)

	r.Group(func(r chi.Router) {
		r.Use(deps.Admission.Limit(rlmodels.ClassRead))
		deps.Agents.RegisterReads(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(deps.Admission.Limit(rlmodels.ClassWrite))
		deps.Agents.RegisterWrites(r)
		deps.Policy.RegisterWrites(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(deps.Admission.Limit(rlmodels.ClassExecute))
		deps.Policy.RegisterExecute(r)
	})

	return r
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				deps[hc.Name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			deps[hc.Name] = "ok"
		}

		body := map[string]any{"status": "ok"}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		if len(deps) > 0 {
			body["dependencies"] = deps
		}
		httputil.WriteJSON(w, status, body)
	}
}
