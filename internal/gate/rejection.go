package gate

import (
	"fmt"
	"net/http"

	"gatekeeper/internal/models"
	"gatekeeper/internal/token"
)

const (
	ReasonMissingToken = "missing-token"
	ReasonRoleMismatch = "role-mismatch"
	ReasonRateLimited  = "rate-limited"
)

// Rejection ends a request with a status and a client-safe message. Reason
// is for logs only.
type Rejection struct {
	Status     int
	Reason     string
	Message    string
	Code       string
	RetryAfter int
	Policy     string
	Err        error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("rejected %d (%s): %v", r.Status, r.Reason, r.Err)
	}
	return fmt.Sprintf("rejected %d (%s)", r.Status, r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

func unauthorized(reason string, err error) *Rejection {
	message := "Invalid or expired token"
	switch reason {
	case ReasonMissingToken:
		message = "Authentication required"
	case string(token.ReasonMalformed):
		message = "Invalid token format"
	}
	return &Rejection{
		Status:  http.StatusUnauthorized,
		Reason:  reason,
		Message: message,
		Code:    models.ErrorCodeUnauthorized,
		Err:     err,
	}
}

func serviceUnavailable(reason string, err error) *Rejection {
	return &Rejection{
		Status:     http.StatusServiceUnavailable,
		Reason:     reason,
		Message:    "Service temporarily unavailable",
		Code:       models.ErrorCodeServiceUnavailable,
		RetryAfter: 1,
		Err:        err,
	}
}
