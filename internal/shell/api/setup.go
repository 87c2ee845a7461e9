package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/manyminds/api2go"

	"github.com/artpar/flowstack/internal/shell/api/middleware"
	"github.com/artpar/flowstack/internal/shell/api/openapi"
	"github.com/artpar/flowstack/internal/shell/api/resources"
	"github.com/artpar/flowstack/internal/shell/engine"
	"github.com/artpar/flowstack/internal/shell/matcher"
	"github.com/artpar/flowstack/internal/shell/runtime"
	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// API Setup
// =============================================================================

// APIConfig holds everything SetupAPI needs to assemble the router.
type APIConfig struct {
	Store    store.Store
	Engine   *engine.Service
	Matcher  *matcher.Service
	Launcher *runtime.Launcher
	Runtime  runtime.Client // readiness ping against the container daemon
	Logger   *slog.Logger

	// APITokenHashes are bcrypt hashes of accepted bearer tokens. Empty
	// disables auth.
	APITokenHashes []string

	// CORSAllowedOrigins lists origins allowed to call the API from a
	// browser. Empty disables CORS headers.
	CORSAllowedOrigins []string
}

// SetupAPI assembles the complete HTTP surface: JSON:API management
// resources under /api/v1, the worker protocol under /worker/v1, health
// probes, and the OpenAPI document.
func SetupAPI(cfg APIConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware(cfg.Logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		router.Use(corsMiddleware(cfg.CORSAllowedOrigins))
	}

	authMW := middleware.NewAuthMiddleware(middleware.AuthConfig{
		TokenHashes: cfg.APITokenHashes,
		ExemptPaths: []string{"/health", "/ready"},
		Logger:      cfg.Logger,
	})
	router.Use(authMW.Handler)

	// Health endpoints (plain JSON, not JSON:API)
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/ready", readyHandler(cfg.Store, cfg.Runtime)).Methods("GET")

	// api2go creates its own internal router; mounted last under /api.
	jsonAPI := api2go.NewAPIWithResolver("v1", api2go.NewStaticResolver("/api"))
	jsonAPI.ContentType = "application/vnd.api+json"

	namespaceResource := resources.NewNamespaceResource(cfg.Store)
	definitionResource := resources.NewDefinitionResource(cfg.Store, cfg.Engine)
	workflowResource := resources.NewWorkflowResource(cfg.Store, cfg.Engine)
	stackResource := resources.NewStackResource(cfg.Store, cfg.Launcher, cfg.Logger)

	jsonAPI.AddResource(resources.Namespace{}, namespaceResource)
	jsonAPI.AddResource(resources.Definition{}, definitionResource)
	jsonAPI.AddResource(resources.Workflow{}, workflowResource)
	jsonAPI.AddResource(resources.Stack{}, stackResource)

	// Custom action routes must be registered before the /api PathPrefix
	// handler or api2go swallows them.

	// Workflow actions
	router.HandleFunc("/api/v1/workflows/{id}/signal", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		resp, err := workflowResource.Signal(id, r)
		writeResponder(w, resp, err, cfg.Logger)
	}).Methods("POST")

	router.HandleFunc("/api/v1/workflows/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		resp, err := workflowResource.Cancel(id, r)
		writeResponder(w, resp, err, cfg.Logger)
	}).Methods("POST")

	router.HandleFunc("/api/v1/workflows/{id}/terminate", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		resp, err := workflowResource.Terminate(id, r)
		writeResponder(w, resp, err, cfg.Logger)
	}).Methods("POST")

	// Stack actions
	router.HandleFunc("/api/v1/stacks/{id}/launch", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		resp, err := stackResource.Launch(id, r)
		writeResponder(w, resp, err, cfg.Logger)
	}).Methods("POST")

	router.HandleFunc("/api/v1/stacks/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		resp, err := stackResource.Stop(id, r)
		writeResponder(w, resp, err, cfg.Logger)
	}).Methods("POST")

	// OpenAPI document
	openapiGen := openapi.NewGenerator(
		openapi.WithTitle("FlowStack API"),
		openapi.WithVersion("1.0.0"),
		openapi.WithDescription("Durable workflow orchestration and container stack deployment API"),
		openapi.WithServer("/api/v1"),
	)
	openapiGen.RegisterResource(openapi.ResourceInfo{
		Name:           "namespaces",
		Model:          resources.Namespace{},
		SupportsFind:   true,
		SupportsCreate: true,
	})
	openapiGen.RegisterResource(openapi.ResourceInfo{
		Name:           "definitions",
		Model:          resources.Definition{},
		SupportsFind:   true,
		SupportsCreate: true,
	})
	openapiGen.RegisterResource(openapi.ResourceInfo{
		Name:           "workflows",
		Model:          resources.Workflow{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsDelete: true,
		Actions:        []string{"signal", "cancel", "terminate"},
	})
	openapiGen.RegisterResource(openapi.ResourceInfo{
		Name:           "stacks",
		Model:          resources.Stack{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsDelete: true,
		Actions:        []string{"launch", "stop"},
	})
	router.HandleFunc("/openapi.json", openapiGen.Handler()).Methods("GET")

	// Worker protocol
	workerHandler := NewWorkerHandler(cfg.Engine, cfg.Matcher, cfg.Logger)
	router.PathPrefix("/worker/v1").Handler(
		http.StripPrefix("/worker/v1", workerHandler.Routes()),
	)

	// api2go expects paths without the /api prefix, so strip it.
	router.PathPrefix("/api").Handler(http.StripPrefix("/api", jsonAPI.Handler()))

	return router
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDMiddleware ensures every response carries a request ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from handler panics with a JSON:API 500.
func recoveryMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/vnd.api+json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]interface{}{
						"errors": []map[string]interface{}{
							{
								"status": "500",
								"title":  "Internal Server Error",
								"detail": "An unexpected error occurred",
							},
						},
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware answers preflight requests and sets the allow headers
// for configured origins.
func corsMiddleware(allowedOrigins []string) mux.MiddlewareFunc {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Health Handlers
// =============================================================================

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
}

// readyHandler reports readiness of the store and the container daemon.
// A missing runtime client means the server runs workflow-only, and
// readiness covers the store alone.
func readyHandler(s store.Store, rt runtime.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		checks := map[string]string{"database": "ok"}

		ready := true
		if _, err := s.ListNamespaces(r.Context(), store.ListOptions{Limit: 1}); err != nil {
			checks["database"] = "failed"
			ready = false
		}
		if rt != nil {
			if err := rt.Ping(r.Context()); err != nil {
				checks["docker"] = "failed"
				ready = false
			} else {
				checks["docker"] = "ok"
			}
		}

		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(ReadyResponse{Status: "not_ready", Checks: checks})
			return
		}
		json.NewEncoder(w).Encode(ReadyResponse{Status: "ready", Checks: checks})
	}
}

// =============================================================================
// Helpers
// =============================================================================

// writeResponder writes an api2go.Responder from a custom action route.
func writeResponder(w http.ResponseWriter, resp api2go.Responder, err error, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/vnd.api+json")

	if err != nil {
		if httpErr, ok := err.(api2go.HTTPError); ok && len(httpErr.Errors) > 0 {
			w.WriteHeader(parseStatus(httpErr.Errors[0].Status))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errors": httpErr.Errors,
			})
			return
		}
		logger.Error("request error", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{
				{
					"status": "500",
					"title":  "Internal Server Error",
					"detail": err.Error(),
				},
			},
		})
		return
	}

	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.WriteHeader(resp.StatusCode())
	if result := resp.Result(); result != nil {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": result,
			"meta": resp.Metadata(),
		})
	}
}

// parseStatus converts a JSON:API error status string to an int.
func parseStatus(status string) int {
	status = strings.TrimSpace(status)
	if status == "" {
		return http.StatusInternalServerError
	}
	if i, err := json.Number(status).Int64(); err == nil && i > 0 {
		return int(i)
	}
	return http.StatusInternalServerError
}
