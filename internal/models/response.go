// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Every body carries "success" so clients can branch without inspecting status codes
// - Optional fields use omitempty to reduce response size
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// ErrorResponse is the envelope for every rejected request.
//
// Error Categories:
// - 401: missing or invalid token (message stays generic)
// - 403: role mismatch
// - 429: rate limited, RetryAfter in whole seconds
// - 503: a backing store is unavailable and the component fails closed
type ErrorResponse struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	Code       string            `json:"code,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	RequestID  string            `json:"requestId,omitempty"`
}

// DataResponse wraps a successful payload.
type DataResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// TokenResponse is returned by login, register and refresh.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *UserInfo `json:"user,omitempty"`
}

// UserInfo is the public projection of a User.
type UserInfo struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// RevokeAllResponse reports a mass revocation.
type RevokeAllResponse struct {
	PrincipalID string `json:"principalId"`
	Revoked     int    `json:"revoked"`
}

// RateLimitStatusResponse is the admin view of one bucket.
type RateLimitStatusResponse struct {
	Policy    string    `json:"policy"`
	Key       string    `json:"key"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// DecodedTokenResponse is the unverified content of a token. Signature and
// expiry are not checked, so nothing here may be trusted for access.
type DecodedTokenResponse struct {
	TokenID   string     `json:"tokenId"`
	Subject   string     `json:"subject"`
	Role      Role       `json:"role"`
	Issuer    string     `json:"issuer,omitempty"`
	Audience  []string   `json:"audience,omitempty"`
	IssuedAt  *time.Time `json:"issuedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Expired   bool       `json:"expired"`
	Revoked   bool       `json:"revoked"`
}

// UploadResponse describes a stored upload.
type UploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401
	ErrorCodeForbidden          = "FORBIDDEN"           // 403
	ErrorCodeConflict           = "CONFLICT"            // 409
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED" // 429
	ErrorCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"   // 413
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
	ErrorCodeNotSupported       = "NOT_SUPPORTED"       // 501
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	}
}

func NewDataResponse(data interface{}) *DataResponse {
	return &DataResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if status != StatusHealthy && h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
}
