package api

import (
	"net/http"

	"gatekeeper/internal/gate"
	"gatekeeper/internal/models"

	"github.com/gorilla/mux"
)

// Register creates a USER account and returns its first token
// POST /api/auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	resp, err := h.accounts.Register(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, r, http.StatusCreated, models.NewDataResponse(resp))
}

// Login exchanges credentials for a token
// POST /api/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	resp, err := h.accounts.Login(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, r, http.StatusOK, models.NewDataResponse(resp))
}

// Refresh rotates the caller's token
// POST /api/auth/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	resp, err := h.accounts.Refresh(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, r, http.StatusOK, models.NewDataResponse(resp))
}

// Logout revokes the caller's token
// POST /api/auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), r.Header.Get("Authorization")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := models.NewDataResponse(nil)
	resp.Message = "Logged out"
	h.writeJSONResponse(w, r, http.StatusOK, resp)
}

// Me returns the caller's account
// GET /api/auth/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	principal, _ := gate.PrincipalFromContext(r.Context())
	info, err := h.accounts.Profile(r.Context(), principal)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, r, http.StatusOK, models.NewDataResponse(info))
}

// GetUser returns an account the caller may see
// GET /api/users/{id}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	principal, _ := gate.PrincipalFromContext(r.Context())
	info, err := h.accounts.GetUser(r.Context(), principal, mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, r, http.StatusOK, models.NewDataResponse(info))
}
