package revocation

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// DefaultStoreTimeout bounds each store call.
const DefaultStoreTimeout = 100 * time.Millisecond

// Ledger applies timeouts and the failure policy on top of a Store.
type Ledger struct {
	store    Store
	index    PrincipalIndex
	timeout  time.Duration
	failOpen bool
	now      func() time.Time
	logger   *slog.Logger

	warn *rate.Sometimes
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithTracking enables the per-principal index when the store provides one.
func WithTracking(enabled bool) LedgerOption {
	return func(l *Ledger) {
		l.index = nil
		if !enabled {
			return
		}
		if idx, ok := l.store.(PrincipalIndex); ok {
			l.index = idx
		}
	}
}

// WithStoreTimeout sets the per-call store timeout.
func WithStoreTimeout(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithFailOpen makes IsRevoked report false when the store is unreachable.
// Writes always surface store failures.
func WithFailOpen(failOpen bool) LedgerOption {
	return func(l *Ledger) {
		l.failOpen = failOpen
	}
}

// WithLogger sets the logger used for store failure warnings.
func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithClock overrides the ledger's clock.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a ledger over store. Lookups fail closed by default.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:   store,
		timeout: DefaultStoreTimeout,
		now:     time.Now,
		logger:  slog.Default(),
		warn:    &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TracksIssued reports whether issued tokens are indexed per principal.
func (l *Ledger) TracksIssued() bool {
	return l.index != nil
}

// Revoke marks tokenID revoked for ttl. A non-positive ttl means the token
// has already expired and nothing is written.
func (l *Ledger) Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	created, err := l.store.Revoke(storeCtx, tokenID, ttl)
	if err != nil {
		return false, &StoreUnavailableError{Operation: "revoke", Err: err}
	}
	return created, nil
}

// RevokeUntil revokes tokenID until expiresAt.
func (l *Ledger) RevokeUntil(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	return l.Revoke(ctx, tokenID, expiresAt.Sub(l.now()))
}

// IsRevoked reports whether tokenID is revoked. With fail-open, an
// unreachable store reports false.
func (l *Ledger) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	revoked, err := l.store.IsRevoked(storeCtx, tokenID)
	if err != nil {
		err = &StoreUnavailableError{Operation: "lookup", Err: err}
		l.warn.Do(func() {
			l.logger.WarnContext(ctx, "Revocation store unavailable",
				"error", err,
				"fail_open", l.failOpen,
			)
		})
		if l.failOpen {
			return false, nil
		}
		return false, err
	}
	return revoked, nil
}

// Track records tokenID as issued to principalID. It is a no-op when
// tracking is disabled.
func (l *Ledger) Track(ctx context.Context, principalID, tokenID string, ttl time.Duration) error {
	if l.index == nil || ttl <= 0 {
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.index.TrackIssued(storeCtx, principalID, tokenID, ttl); err != nil {
		return &StoreUnavailableError{Operation: "track", Err: err}
	}
	return nil
}

// RevokeAllForPrincipal revokes every unexpired token issued to principalID
// and returns how many entries it created.
func (l *Ledger) RevokeAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	if l.index == nil {
		return 0, ErrRevokeAllUnsupported
	}

	listCtx, cancel := context.WithTimeout(ctx, l.timeout)
	issued, err := l.index.IssuedTokens(listCtx, principalID)
	cancel()
	if err != nil {
		return 0, &StoreUnavailableError{Operation: "list issued", Err: err}
	}

	revoked := 0
	for _, tok := range issued {
		created, err := l.RevokeUntil(ctx, tok.TokenID, tok.ExpiresAt)
		if err != nil {
			return revoked, err
		}
		if created {
			revoked++
		}
	}

	l.logger.InfoContext(ctx, "Revoked tokens for principal",
		"principal_id", principalID,
		"issued", len(issued),
		"revoked", revoked,
	)
	return revoked, nil
}

// Ping checks the underlying store.
func (l *Ledger) Ping(ctx context.Context) error {
	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.Ping(storeCtx)
}
