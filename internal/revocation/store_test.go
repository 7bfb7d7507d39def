package revocation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// runStoreSuite exercises behaviour shared by every Store that also
// implements PrincipalIndex.
func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("revoke is set-if-absent", func(t *testing.T) {
		id := uuid.NewString()

		revoked, err := store.IsRevoked(ctx, id)
		require.NoError(t, err)
		assert.False(t, revoked)

		created, err := store.Revoke(ctx, id, time.Hour)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = store.Revoke(ctx, id, time.Hour)
		require.NoError(t, err)
		assert.False(t, created)

		revoked, err = store.IsRevoked(ctx, id)
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("concurrent revokes have one winner", func(t *testing.T) {
		id := uuid.NewString()
		var (
			wg   sync.WaitGroup
			wins atomic.Int64
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				created, err := store.Revoke(ctx, id, time.Hour)
				if err == nil && created {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(1), wins.Load())
	})

	t.Run("principal index", func(t *testing.T) {
		idx, ok := store.(PrincipalIndex)
		require.True(t, ok)

		principal := uuid.NewString()
		other := uuid.NewString()
		require.NoError(t, idx.TrackIssued(ctx, principal, "a", time.Hour))
		require.NoError(t, idx.TrackIssued(ctx, principal, "b", 2*time.Hour))
		require.NoError(t, idx.TrackIssued(ctx, other, "c", time.Hour))

		issued, err := idx.IssuedTokens(ctx, principal)
		require.NoError(t, err)
		ids := make([]string, 0, len(issued))
		for _, tok := range issued {
			ids = append(ids, tok.TokenID)
			assert.True(t, tok.ExpiresAt.After(time.Now().Add(-time.Minute)))
		}
		assert.ElementsMatch(t, []string{"a", "b"}, ids)

		issued, err = idx.IssuedTokens(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, issued)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
