package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBucketStoreSuite exercises the behaviour every BucketStore shares,
// independent of how the store reads the clock.
func runBucketStoreSuite(t *testing.T, store BucketStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("quota then deny", func(t *testing.T) {
		key := "auth:ip:" + uuid.NewString()
		policy := Policy{Name: "auth", Points: 3, Duration: time.Hour}

		for i := 0; i < 3; i++ {
			res, err := store.Consume(ctx, key, policy, 1)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 2-i, res.Remaining)
			assert.True(t, res.ResetAfter > 0 && res.ResetAfter <= time.Hour)
		}

		res, err := store.Consume(ctx, key, policy, 1)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.True(t, res.ResetAfter > 0)
	})

	t.Run("keys are independent", func(t *testing.T) {
		policy := Policy{Name: "general", Points: 1, Duration: time.Hour}
		a := "general:user:" + uuid.NewString()
		b := "general:user:" + uuid.NewString()

		res, err := store.Consume(ctx, a, policy, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		res, err = store.Consume(ctx, a, policy, 1)
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		res, err = store.Consume(ctx, b, policy, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("peek does not consume", func(t *testing.T) {
		key := "upload:user:" + uuid.NewString()
		policy := Policy{Name: "upload", Points: 10, Duration: time.Hour}

		res, err := store.Peek(ctx, key, policy)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 10, res.Remaining)

		_, err = store.Consume(ctx, key, policy, 4)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			res, err = store.Peek(ctx, key, policy)
			require.NoError(t, err)
			assert.Equal(t, 6, res.Remaining)
		}
	})

	t.Run("reset restores quota", func(t *testing.T) {
		key := "sensitive:user:" + uuid.NewString()
		policy := Policy{Name: "sensitive", Points: 1, Duration: time.Hour, BlockDuration: time.Hour}

		_, err := store.Consume(ctx, key, policy, 1)
		require.NoError(t, err)
		res, err := store.Consume(ctx, key, policy, 1)
		require.NoError(t, err)
		require.False(t, res.Allowed)
		assert.True(t, res.ResetAfter > time.Hour, "block duration extends the window")

		require.NoError(t, store.Reset(ctx, key))

		res, err = store.Consume(ctx, key, policy, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("invalid points", func(t *testing.T) {
		_, err := store.Consume(ctx, "p:ip:x", Policy{Name: "p", Points: 1, Duration: time.Minute}, 0)
		assert.ErrorIs(t, err, ErrInvalidPoints)
	})

	t.Run("concurrent consumes are atomic", func(t *testing.T) {
		key := "general:ip:" + uuid.NewString()
		policy := Policy{Name: "general", Points: 20, Duration: time.Hour}

		var (
			wg      sync.WaitGroup
			allowed atomic.Int64
			errs    atomic.Int64
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.Consume(ctx, key, policy, 1)
				if err != nil {
					errs.Add(1)
					return
				}
				if res.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()

		require.Zero(t, errs.Load())
		assert.Equal(t, int64(20), allowed.Load(), fmt.Sprintf("exactly %d of 50 consumes may succeed", policy.Points))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
