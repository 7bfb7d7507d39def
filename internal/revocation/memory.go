package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store and PrincipalIndex. Entries are only
// visible to this process.
type MemoryStore struct {
	now func() time.Time

	mu      sync.RWMutex
	revoked map[string]time.Time
	issued  map[string]map[string]time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the store's clock.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates an empty in-process ledger store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		now:     time.Now,
		revoked: make(map[string]time.Time),
		issued:  make(map[string]map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.revoked[tokenID]; ok && now.Before(exp) {
		return false, nil
	}
	m.revoked[tokenID] = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.revoked[tokenID]
	return ok && now.Before(exp), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) TrackIssued(ctx context.Context, principalID, tokenID string, ttl time.Duration) error {
	exp := m.now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens, ok := m.issued[principalID]
	if !ok {
		tokens = make(map[string]time.Time)
		m.issued[principalID] = tokens
	}
	tokens[tokenID] = exp
	return nil
}

func (m *MemoryStore) IssuedTokens(ctx context.Context, principalID string) ([]IssuedToken, error) {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []IssuedToken
	for id, exp := range m.issued[principalID] {
		if now.Before(exp) {
			out = append(out, IssuedToken{TokenID: id, ExpiresAt: exp})
		}
	}
	return out, nil
}

// Purge drops expired revocations and index entries.
func (m *MemoryStore) Purge(ctx context.Context) (int64, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, exp := range m.revoked {
		if !now.Before(exp) {
			delete(m.revoked, id)
			n++
		}
	}
	for principal, tokens := range m.issued {
		for id, exp := range tokens {
			if !now.Before(exp) {
				delete(tokens, id)
				n++
			}
		}
		if len(tokens) == 0 {
			delete(m.issued, principal)
		}
	}
	return n, nil
}
