// Package router assembles the HTTP surface: shared middleware, the
// Anthropic-style API under /v1, and the operational endpoints.
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"

	"claude-bridge/internal/config"
	facade "claude-bridge/internal/facade/anthropic"
	"claude-bridge/internal/logbus"
	"claude-bridge/internal/metrics"
	"claude-bridge/internal/middleware"
	"claude-bridge/internal/registry"
)

// Deps carries everything the router mounts.
type Deps struct {
	Config   *config.Config
	Facade   *facade.Handler
	Metrics  *metrics.Metrics
	Bus      *logbus.Bus
	Registry *registry.Registry
	Log      *slog.Logger
}

// New builds the top-level chi router.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(d.Log, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		// Request and response bodies stay out of the logs: prompts
		// and completions routinely carry sensitive content.
		LogRequestHeaders:  []string{"Content-Type", "Anthropic-Version"},
		LogResponseHeaders: []string{},

		RecoverPanics: false,
	}))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Anthropic-Version", "Anthropic-Beta"},
		ExposedHeaders:   []string{"Content-Type", "X-Dropped-Params", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler(d.Registry))
	r.Mount("/metrics", d.Metrics.Handler())
	if d.Config.Debug.Events {
		r.Get("/debug/events", d.Bus.ServeSSE)
	}

	v1 := chi.NewRouter()
	v1.Mount("/", d.Facade.Routes())
	r.Mount("/v1", v1)

	return r
}

func healthHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := "ok"
		code := http.StatusOK
		if !reg.Ready() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"models": len(reg.Entries()),
		})
	}
}
