package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gatekeeper/internal/account"
	"gatekeeper/internal/gate"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/revocation"
	"gatekeeper/internal/token"

	"github.com/gorilla/mux"
)

// audit logs an administrative action with the acting principal.
func audit(r *http.Request, action string, attrs ...any) {
	ctx := r.Context()
	actor := "unknown"
	if p, ok := gate.PrincipalFromContext(ctx); ok {
		actor = p.ID
	}
	logger.FromContext(ctx).InfoContext(ctx, "Admin action",
		append([]any{"action", action, "actor_id", actor}, attrs...)...)
}

// RevokeUserTokens revokes every outstanding token of an account
// POST /api/admin/users/{id}/revoke-tokens
func (h *Handlers) RevokeUserTokens(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	resp, err := h.accounts.RevokeAllForUser(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	audit(r, "revoke-user-tokens", "user_id", id, "revoked", resp.Revoked)
	h.writeJSONResponse(w, r, http.StatusOK, models.NewDataResponse(resp))
}

// DecodeToken shows a token's claims without trusting them
// POST /api/admin/tokens/decode
func (h *Handlers) DecodeToken(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		h.writeServiceError(w, r, account.NewNotSupportedError("Token administration is not enabled", nil))
		return
	}
	var req models.TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, account.NewValidationError(err.Error(), err))
		return
	}

	claims, err := h.tokens.DecodeUnsafe(req.Token)
	if err != nil {
		h.writeServiceError(w, r, account.NewValidationError("Token could not be decoded", err))
		return
	}

	resp := &models.DecodedTokenResponse{
		TokenID:  claims.TokenID(),
		Subject:  claims.Subject,
		Role:     claims.Role,
		Issuer:   claims.Issuer,
		Audience: claims.Audience,
	}
	if claims.IssuedAt != nil {
		iat := claims.IssuedAt.UTC()
		resp.IssuedAt = &iat
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
		resp.Expired = !h.now().Before(exp)
	}
	if h.ledger != nil {
		revoked, err := h.ledger.IsRevoked(r.Context(), resp.TokenID)
		if err != nil {
			h.writeServiceError(w, r, account.NewUnavailableError(err))
			return
		}
		resp.Revoked = revoked
	}

	audit(r, "decode-token", "token_id", resp.TokenID)
	h.writeJSONResponse(w, r, http.StatusOK, models.NewDataResponse(resp))
}

// RevokeToken revokes one token for the rest of its lifetime
// POST /api/admin/tokens/revoke
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		h.writeServiceError(w, r, account.NewNotSupportedError("Token administration is not enabled", nil))
		return
	}
	var req models.TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, account.NewValidationError(err.Error(), err))
		return
	}

	p, err := h.tokens.Revoke(r.Context(), req.Token)
	if err != nil {
		var unavailable *revocation.StoreUnavailableError
		if errors.As(err, &unavailable) {
			h.writeServiceError(w, r, account.NewUnavailableError(err))
			return
		}
		if reason, ok := token.ReasonOf(err); ok {
			// an admin may see why; expired and revoked tokens need no revocation
			h.writeServiceError(w, r, account.NewValidationError(fmt.Sprintf("Token is not active (%s)", reason), err))
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	audit(r, "revoke-token", "token_id", p.TokenID, "user_id", p.ID)
	resp := models.NewDataResponse(map[string]string{"tokenId": p.TokenID, "principalId": p.ID})
	resp.Message = "Token revoked"
	h.writeJSONResponse(w, r, http.StatusOK, resp)
}

// GetRateLimit reports a bucket without charging it
// GET /api/admin/rate-limits/{policy}/{identity}
func (h *Handlers) GetRateLimit(w http.ResponseWriter, r *http.Request) {
	policy, identity, ok := h.bucketVars(w, r)
	if !ok {
		return
	}

	d, err := h.limits.Peek(r.Context(), policy, identity)
	if err != nil {
		h.writeServiceError(w, r, rateLimitError(err))
		return
	}

	h.writeJSONResponse(w, r, http.StatusOK, models.NewDataResponse(&models.RateLimitStatusResponse{
		Policy:    d.Policy,
		Key:       d.Key,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt.UTC().Truncate(time.Second),
	}))
}

// ResetRateLimit clears a bucket
// DELETE /api/admin/rate-limits/{policy}/{identity}
func (h *Handlers) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	policy, identity, ok := h.bucketVars(w, r)
	if !ok {
		return
	}

	if err := h.limits.Reset(r.Context(), policy, identity); err != nil {
		h.writeServiceError(w, r, rateLimitError(err))
		return
	}

	audit(r, "reset-rate-limit", "policy", policy, "identity", identity)
	resp := models.NewDataResponse(nil)
	resp.Message = "Rate limit reset"
	h.writeJSONResponse(w, r, http.StatusOK, resp)
}

// bucketVars reads and checks the policy and identity path variables. The
// identity is an identity key such as "user:<id>" or "ip:<addr>".
func (h *Handlers) bucketVars(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if h.limits == nil {
		h.writeServiceError(w, r, account.NewNotSupportedError("Rate limiting is disabled", nil))
		return "", "", false
	}
	vars := mux.Vars(r)
	identity := vars["identity"]
	if !strings.HasPrefix(identity, "user:") && !strings.HasPrefix(identity, "ip:") {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest,
			"Identity must start with user: or ip:")
		return "", "", false
	}
	return vars["policy"], identity, true
}

func rateLimitError(err error) error {
	var unavailable *ratelimit.StoreUnavailableError
	switch {
	case errors.Is(err, ratelimit.ErrUnknownPolicy):
		return account.NewNotFoundError("Unknown rate limit policy")
	case errors.As(err, &unavailable):
		return account.NewUnavailableError(err)
	}
	return err
}
