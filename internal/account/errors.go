package account

import (
	"errors"
	"fmt"
	"net/http"

	"gatekeeper/internal/models"
	"gatekeeper/internal/revocation"
	"gatekeeper/internal/token"
)

// ServiceError represents errors from the account service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors for common service errors

func NewValidationError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeValidation,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewConflictError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewNotFoundError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        err,
	}
}

func NewForbiddenError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeForbidden,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewUnavailableError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeServiceUnavailable,
		Message:    "Service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewNotSupportedError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeNotSupported,
		Message:    message,
		StatusCode: http.StatusNotImplemented,
		Err:        err,
	}
}

// fromTokenError maps token and ledger failures onto service errors. Token
// rejections keep a generic message.
func fromTokenError(err error) *ServiceError {
	var unavailable *revocation.StoreUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return NewUnavailableError(err)
	case errors.Is(err, revocation.ErrRevokeAllUnsupported):
		return NewNotSupportedError("Revoking all tokens is not supported by the configured revocation store", err)
	}
	if reason, ok := token.ReasonOf(err); ok {
		if reason == token.ReasonMalformed {
			return NewUnauthorizedError("Invalid token format", err)
		}
		return NewUnauthorizedError("Invalid or expired token", err)
	}
	return NewInternalError("Token operation failed", err)
}
