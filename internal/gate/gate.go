// Package gate is the per-request admission pipeline. Every protected route
// runs the same ordered steps: extract the bearer token, validate it and
// attach the principal, charge the rate limit, then check the role. The
// first step that rejects ends the request.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/revocation"
	"gatekeeper/internal/token"

	"github.com/gorilla/mux"
)

// Stage is the position of a request in the pipeline.
type Stage string

const (
	StageUnauthenticated Stage = "Unauthenticated"
	StageTokenExtracted  Stage = "TokenExtracted"
	StageValidated       Stage = "Validated"
	StageRateLimited     Stage = "RateLimited"
	StageRoleChecked     Stage = "RoleChecked"
	StageHandled         Stage = "Handled"
	StageRejected        Stage = "Rejected"
)

// Route declares what a handler requires.
type Route struct {
	// Policy names the rate limit policy. Empty skips rate limiting.
	Policy string
	// RequireAuth rejects requests without a token.
	RequireAuth bool
	// Role is the minimum role. ADMIN satisfies USER.
	Role models.Role
}

// Validator turns a raw token into a principal.
type Validator interface {
	Validate(ctx context.Context, raw string) (models.Principal, error)
}

// Limiter charges a request against a policy.
type Limiter interface {
	Check(ctx context.Context, policy string, id ratelimit.Identity) (ratelimit.Decision, error)
}

// Gate runs the admission pipeline.
type Gate struct {
	validator  Validator
	limiter    Limiter
	trustProxy bool
	logger     *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithTrustProxyHeaders resolves client addresses from X-Forwarded-For and
// X-Real-IP.
func WithTrustProxyHeaders(trust bool) Option {
	return func(g *Gate) {
		g.trustProxy = trust
	}
}

// WithLogger sets the fallback logger for requests without one in context.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a gate. A nil limiter disables rate limiting.
func New(validator Validator, limiter Limiter, opts ...Option) *Gate {
	g := &Gate{
		validator: validator,
		limiter:   limiter,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request is one request moving through the pipeline.
type Request struct {
	HTTP      *http.Request
	Route     Route
	Stage     Stage
	ClientIP  string
	Token     string
	Principal *models.Principal
	Decision  *ratelimit.Decision
}

type step struct {
	stage Stage
	run   func(g *Gate, req *Request) *Rejection
}

// pipeline is the fixed order of admission steps.
var pipeline = []step{
	{stage: StageTokenExtracted, run: (*Gate).extractToken},
	{stage: StageValidated, run: (*Gate).validateToken},
	{stage: StageRateLimited, run: (*Gate).rateLimit},
	{stage: StageRoleChecked, run: (*Gate).checkRole},
}

// Evaluate runs the pipeline for r. On success the returned request carries
// the principal in its context; on failure the Rejection says why.
func (g *Gate) Evaluate(r *http.Request, route Route) (*Request, *Rejection) {
	req := &Request{
		HTTP:     r,
		Route:    route,
		Stage:    StageUnauthenticated,
		ClientIP: ClientIP(r, g.trustProxy),
	}
	for _, s := range pipeline {
		if rej := s.run(g, req); rej != nil {
			req.Stage = StageRejected
			return req, rej
		}
	}
	return req, nil
}

// Protect returns middleware that admits requests to route.
func (g *Gate) Protect(route Route) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, rej := g.Evaluate(r, route)
			if req.Decision != nil {
				writeQuotaHeaders(w, req.Decision)
			}
			if rej != nil {
				g.reject(w, req, rej)
				return
			}
			req.Stage = StageHandled
			next.ServeHTTP(w, req.HTTP)
		})
	}
}

func (g *Gate) extractToken(req *Request) *Rejection {
	raw := req.HTTP.Header.Get("Authorization")
	if raw == "" {
		if req.Route.RequireAuth {
			return unauthorized(ReasonMissingToken, nil)
		}
		return nil
	}
	req.Token = raw
	req.Stage = StageTokenExtracted
	return nil
}

// validateToken checks any present token, even on routes that do not
// require one, and propagates its failure.
func (g *Gate) validateToken(req *Request) *Rejection {
	if req.Token == "" {
		return nil
	}

	ctx := req.HTTP.Context()
	p, err := g.validator.Validate(ctx, req.Token)
	if err != nil {
		var unavailable *revocation.StoreUnavailableError
		if errors.As(err, &unavailable) {
			return serviceUnavailable("revocation-store-unavailable", err)
		}
		if reason, ok := token.ReasonOf(err); ok {
			return unauthorized(string(reason), err)
		}
		return &Rejection{
			Status:  http.StatusInternalServerError,
			Reason:  "validation-error",
			Message: "Internal server error",
			Code:    models.ErrorCodeInternalError,
			Err:     err,
		}
	}

	req.Principal = &p
	ctx = context.WithValue(ctx, principalKey{}, &p)
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).With("principal_id", p.ID))
	req.HTTP = req.HTTP.WithContext(ctx)
	req.Stage = StageValidated
	return nil
}

func (g *Gate) rateLimit(req *Request) *Rejection {
	if g.limiter == nil || req.Route.Policy == "" {
		return nil
	}

	id := ratelimit.Identity{RemoteAddr: req.ClientIP}
	if req.Principal != nil {
		id.PrincipalID = req.Principal.ID
	}

	d, err := g.limiter.Check(req.HTTP.Context(), req.Route.Policy, id)
	if err != nil {
		return &Rejection{
			Status:  http.StatusInternalServerError,
			Reason:  "unknown-policy",
			Message: "Internal server error",
			Code:    models.ErrorCodeInternalError,
			Err:     err,
		}
	}

	switch {
	case d.Unavailable:
		rej := serviceUnavailable("rate-limit-store-unavailable", nil)
		rej.RetryAfter = d.RetryAfterSeconds()
		return rej
	case !d.Allowed:
		req.Decision = &d
		return &Rejection{
			Status:     http.StatusTooManyRequests,
			Reason:     ReasonRateLimited,
			Message:    d.Message,
			Code:       models.ErrorCodeRateLimited,
			RetryAfter: d.RetryAfterSeconds(),
			Policy:     d.Policy,
		}
	}

	if !d.Degraded {
		req.Decision = &d
	}
	req.Stage = StageRateLimited
	return nil
}

func (g *Gate) checkRole(req *Request) *Rejection {
	if req.Route.Role == "" {
		req.Stage = StageRoleChecked
		return nil
	}
	if req.Principal == nil {
		return unauthorized(ReasonMissingToken, nil)
	}
	if !satisfies(req.Principal.Role, req.Route.Role) {
		return &Rejection{
			Status:  http.StatusForbidden,
			Reason:  ReasonRoleMismatch,
			Message: "Insufficient permissions for this operation",
			Code:    models.ErrorCodeForbidden,
		}
	}
	req.Stage = StageRoleChecked
	return nil
}

func satisfies(have, want models.Role) bool {
	return have == want || have == models.RoleAdmin
}

func (g *Gate) reject(w http.ResponseWriter, req *Request, rej *Rejection) {
	ctx := req.HTTP.Context()
	log := logger.FromContext(ctx)
	if log == slog.Default() {
		log = g.logger
	}

	attrs := []any{
		"status", rej.Status,
		"reason", rej.Reason,
		"client_ip", req.ClientIP,
		"path", req.HTTP.URL.Path,
	}
	if rej.Err != nil {
		attrs = append(attrs, "error", rej.Err)
	}
	switch {
	case rej.Status >= http.StatusInternalServerError:
		log.ErrorContext(ctx, "Request rejected", attrs...)
	case rej.Status == http.StatusTooManyRequests:
		log.WarnContext(ctx, "Rate limit exceeded", append(attrs, "policy", rej.Policy, "retry_after", rej.RetryAfter)...)
	default:
		log.InfoContext(ctx, "Request rejected", attrs...)
	}

	if rej.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfter))
	}

	resp := models.NewErrorResponse(rej.Message, rej.Code)
	resp.RetryAfter = rej.RetryAfter
	resp.RequestID = logger.RequestIDFromContext(ctx)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	json.NewEncoder(w).Encode(resp)
}

func writeQuotaHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(time.RFC3339))
}

type principalKey struct{}

// PrincipalFromContext returns the principal attached by the gate.
func PrincipalFromContext(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*models.Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal attaches p to ctx as the gate would.
func ContextWithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}
