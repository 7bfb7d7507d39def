package api

import (
	"net/http"

	"gatekeeper/internal/gate"
	"gatekeeper/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/health" &&
					r.URL.Path != "/api/openapi.yaml" &&
					r.URL.Path != "/api/docs"
			}),
		))
	}
}

var (
	authRoute      = gate.Route{Policy: models.PolicyAuth}
	refreshRoute   = gate.Route{Policy: models.PolicyAuth, RequireAuth: true}
	generalRoute   = gate.Route{Policy: models.PolicyGeneral, RequireAuth: true}
	uploadRoute    = gate.Route{Policy: models.PolicyUpload, RequireAuth: true}
	sensitiveRoute = gate.Route{Policy: models.PolicySensitive, RequireAuth: true, Role: models.RoleAdmin}
)

// SetupRoutes configures the HTTP routes for the API. Every route except
// health and the API documents passes through the gate.
func SetupRoutes(handlers *Handlers, g *gate.Gate, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	// request ids must exist before tracing and the gate log anything
	router.Use(requestLoggingMiddleware)
	router.Use(recoveryMiddleware)

	for _, opt := range opts {
		opt(router)
	}

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	protect := func(route gate.Route, h http.HandlerFunc) http.Handler {
		return g.Protect(route)(h)
	}

	api := router.PathPrefix("/api").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.Handle("/register", protect(authRoute, handlers.Register)).Methods("POST")
	auth.Handle("/login", protect(authRoute, handlers.Login)).Methods("POST")
	auth.Handle("/refresh", protect(refreshRoute, handlers.Refresh)).Methods("POST")
	auth.Handle("/logout", protect(generalRoute, handlers.Logout)).Methods("POST")
	auth.Handle("/me", protect(generalRoute, handlers.Me)).Methods("GET")

	api.Handle("/users/{id}", protect(generalRoute, handlers.GetUser)).Methods("GET")
	api.Handle("/upload", protect(uploadRoute, handlers.Upload)).Methods("POST")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Handle("/users/{id}/revoke-tokens", protect(sensitiveRoute, handlers.RevokeUserTokens)).Methods("POST")
	admin.Handle("/tokens/decode", protect(sensitiveRoute, handlers.DecodeToken)).Methods("POST")
	admin.Handle("/tokens/revoke", protect(sensitiveRoute, handlers.RevokeToken)).Methods("POST")
	admin.Handle("/rate-limits/{policy}/{identity}", protect(sensitiveRoute, handlers.GetRateLimit)).Methods("GET")
	admin.Handle("/rate-limits/{policy}/{identity}", protect(sensitiveRoute, handlers.ResetRateLimit)).Methods("DELETE")

	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	api.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	// preflight requests match here so the CORS middleware runs for them
	api.PathPrefix("").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods("OPTIONS")

	router.MethodNotAllowedHandler = withRequestLogging(http.HandlerFunc(methodNotAllowedHandler))
	router.NotFoundHandler = withRequestLogging(http.HandlerFunc(notFoundHandler))

	return router
}

// withRequestLogging wraps handlers that mux calls without running the
// router's middleware.
func withRequestLogging(h http.Handler) http.Handler {
	return requestLoggingMiddleware(recoveryMiddleware(h))
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusMethodNotAllowed, models.ErrorCodeBadRequest, "Method not allowed")
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
}
