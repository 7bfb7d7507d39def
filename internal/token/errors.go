package token

import (
	"errors"
	"fmt"
)

// Reason identifies which validation check rejected a token.
type Reason string

const (
	ReasonMalformed    Reason = "malformed"
	ReasonBadSignature Reason = "bad-signature"
	ReasonExpired      Reason = "expired"
	ReasonBadIssuer    Reason = "bad-issuer"
	ReasonBadAudience  Reason = "bad-audience"
	ReasonRevoked      Reason = "revoked"
)

// InvalidTokenError is returned for any token that fails validation.
type InvalidTokenError struct {
	Reason Reason
	Err    error
}

func (e *InvalidTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid token (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid token (%s)", e.Reason)
}

func (e *InvalidTokenError) Unwrap() error {
	return e.Err
}

func invalid(reason Reason, err error) *InvalidTokenError {
	return &InvalidTokenError{Reason: reason, Err: err}
}

// ReasonOf returns the rejection reason when err is an InvalidTokenError.
func ReasonOf(err error) (Reason, bool) {
	var ite *InvalidTokenError
	if errors.As(err, &ite) {
		return ite.Reason, true
	}
	return "", false
}
