// Package ratelimit implements fixed-window rate limiting on top of a shared
// bucket store. Buckets live in a BucketStore (in-process, Redis, PostgreSQL
// or SQLite); the Limiter maps named policies and caller identities onto
// bucket keys and applies the configured failure policy when the store is
// unreachable.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/models"
)

var (
	// ErrUnknownPolicy is returned when a route names a policy that was never configured.
	ErrUnknownPolicy = errors.New("unknown rate limit policy")

	// ErrInvalidPoints is returned when a consume asks for fewer than one point.
	ErrInvalidPoints = errors.New("points must be at least 1")
)

// BucketStore holds fixed-window buckets keyed by "<policy>:<identity>".
// Consume must be atomic per key: concurrent consumers on any replica never
// observe the same remaining value.
type BucketStore interface {
	// Consume deducts points from the bucket, creating or refilling it first
	// when needed. A denied consume leaves the count unchanged.
	Consume(ctx context.Context, key string, policy Policy, points int) (Result, error)

	// Peek reports the bucket without consuming. Unknown or elapsed buckets
	// report a full quota.
	Peek(ctx context.Context, key string, policy Policy) (Result, error)

	// Reset deletes the bucket.
	Reset(ctx context.Context, key string) error

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
}

// Policy is a named quota: Points per Duration, optionally extending the
// window by BlockDuration once when exhausted.
type Policy struct {
	Name          string
	Points        int
	Duration      time.Duration
	BlockDuration time.Duration
	Message       string
}

// Result is the store-level outcome of a consume or peek.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
}

// StoreUnavailableError wraps a store failure or timeout.
type StoreUnavailableError struct {
	Operation string
	Err       error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("rate limit store unavailable during %s: %v", e.Operation, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// PoliciesFromConfig converts configured policies into Policy values.
func PoliciesFromConfig(cfg map[string]models.PolicyConfig) []Policy {
	policies := make([]Policy, 0, len(cfg))
	for name, pc := range cfg {
		policies = append(policies, Policy{
			Name:          name,
			Points:        pc.Points,
			Duration:      pc.Duration,
			BlockDuration: pc.BlockDuration,
			Message:       pc.Message,
		})
	}
	return policies
}
