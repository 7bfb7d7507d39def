package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process BucketStore. Each replica has its own buckets,
// so it is only correct for single-instance deployments.
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]bucket
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the store's clock.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates an empty in-process bucket store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		now:     time.Now,
		buckets: make(map[string]bucket),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Consume(ctx context.Context, key string, policy Policy, points int) (Result, error) {
	if points < 1 {
		return Result{}, ErrInvalidPoints
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.buckets[key]
	next, res, changed := consume(b, exists, policy, points, m.now())
	if changed {
		m.buckets[key] = next
	}
	return res, nil
}

func (m *MemoryStore) Peek(ctx context.Context, key string, policy Policy) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.buckets[key]
	return peek(b, exists, policy, m.now()), nil
}

func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Purge evicts buckets whose window has elapsed. An elapsed bucket behaves
// exactly like a missing one, so eviction never changes a decision.
func (m *MemoryStore) Purge(ctx context.Context) (int64, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, b := range m.buckets {
		if !now.Before(b.windowEnd) {
			delete(m.buckets, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked buckets.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
