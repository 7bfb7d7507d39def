// Package revocation records revoked token identifiers until the tokens they
// name would have expired anyway. The ledger is shared by every replica
// through the configured Store.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRevokeAllUnsupported is returned by RevokeAllForPrincipal when the
// store keeps no per-principal index or tracking is disabled.
var ErrRevokeAllUnsupported = errors.New("revoking all tokens for a principal requires issued token tracking")

// Store is a set of revoked token ids with per-entry expiry.
type Store interface {
	// Revoke marks tokenID revoked for ttl. It is set-if-absent: it reports
	// true only for the caller that created the entry.
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)

	// IsRevoked reports whether an unexpired entry exists for tokenID.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
}

// PrincipalIndex is implemented by stores that can list the tokens issued
// to a principal.
type PrincipalIndex interface {
	TrackIssued(ctx context.Context, principalID, tokenID string, ttl time.Duration) error
	IssuedTokens(ctx context.Context, principalID string) ([]IssuedToken, error)
}

// IssuedToken is an entry in the per-principal index.
type IssuedToken struct {
	TokenID   string
	ExpiresAt time.Time
}

// StoreUnavailableError wraps a store failure or timeout.
type StoreUnavailableError struct {
	Operation string
	Err       error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("revocation store unavailable during %s: %v", e.Operation, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}
