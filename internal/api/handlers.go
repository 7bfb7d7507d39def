package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"gatekeeper/internal/account"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/token"
	"gatekeeper/internal/version"
)

// maxJSONBody caps request bodies on the JSON endpoints.
const maxJSONBody = 64 << 10

// TokenAdmin is the part of token.Manager the admin endpoints use.
type TokenAdmin interface {
	DecodeUnsafe(raw string) (*token.Claims, error)
	Revoke(ctx context.Context, raw string) (models.Principal, error)
}

// RevocationChecker reports whether a token id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RateLimitAdmin inspects and clears buckets.
type RateLimitAdmin interface {
	Peek(ctx context.Context, policy, identityKey string) (ratelimit.Decision, error)
	Reset(ctx context.Context, policy, identityKey string) error
}

// HealthCheck pings one dependency for the health endpoint.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handlers contains HTTP handlers for the gatekeeper API
type Handlers struct {
	accounts account.ServiceInterface
	tokens   TokenAdmin
	ledger   RevocationChecker
	limits   RateLimitAdmin
	uploads  models.UploadsConfig
	checks   []HealthCheck
	now      func() time.Time
	started  time.Time
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithTokenAdmin enables the admin token endpoints.
func WithTokenAdmin(tokens TokenAdmin, ledger RevocationChecker) HandlerOption {
	return func(h *Handlers) {
		h.tokens = tokens
		h.ledger = ledger
	}
}

// WithRateLimitAdmin enables the admin rate limit endpoints.
func WithRateLimitAdmin(limits RateLimitAdmin) HandlerOption {
	return func(h *Handlers) {
		h.limits = limits
	}
}

// WithUploads sets where uploads are written and how large they may be.
func WithUploads(cfg models.UploadsConfig) HandlerOption {
	return func(h *Handlers) {
		h.uploads = cfg
	}
}

// WithHealthChecks adds dependencies reported by the health endpoint.
func WithHealthChecks(checks ...HealthCheck) HandlerOption {
	return func(h *Handlers) {
		h.checks = append(h.checks, checks...)
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(accounts account.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		accounts: accounts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// HealthCheck handles health check requests
// GET /health, GET /api/health
// Each dependency is pinged; any failure reports the service as degraded.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version
	response.Uptime = h.now().Sub(h.started).Truncate(time.Second).String()

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response.AddComponent("api", models.StatusHealthy, "API is operational")
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			logger.FromContext(ctx).WarnContext(ctx, "Health check failed", "component", check.Name, "error", err)
			response.AddComponent(check.Name, models.StatusUnhealthy, "Unreachable")
			continue
		}
		response.AddComponent(check.Name, models.StatusHealthy, "Reachable")
	}

	h.writeJSONResponse(w, r, http.StatusOK, response)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers are already written
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = logger.RequestIDFromContext(r.Context())
	h.writeJSONResponse(w, r, statusCode, errorResp)
}

// writeServiceError maps err to a response. Only ServiceError messages
// reach the client; anything else is logged and reported as a 500.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var svcErr *account.ServiceError
	if !errors.As(err, &svcErr) {
		log.ErrorContext(ctx, "Unhandled error", "path", r.URL.Path, "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	switch {
	case svcErr.StatusCode >= http.StatusInternalServerError:
		log.ErrorContext(ctx, "Request failed", "path", r.URL.Path, "status", svcErr.StatusCode, "error", err)
	default:
		log.InfoContext(ctx, "Request refused", "path", r.URL.Path, "status", svcErr.StatusCode, "error", err)
	}
	if svcErr.StatusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	h.writeErrorResponse(w, r, svcErr.StatusCode, svcErr.Code, svcErr.Message)
}
