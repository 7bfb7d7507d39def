package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeeper/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runUserStoreSuite exercises the UserStore contract against any backend.
func runUserStoreSuite(t *testing.T, store UserStore) {
	ctx := context.Background()

	newUser := func(role models.Role) *models.User {
		u := models.NewUser(uuid.NewString()+"@example.com", "Test User", "$2a$10$hash", role)
		u.CreatedAt = u.CreatedAt.Truncate(time.Millisecond)
		u.UpdatedAt = u.CreatedAt
		return u
	}

	t.Run("create and get", func(t *testing.T) {
		u := newUser(models.RoleUser)
		require.NoError(t, store.CreateUser(ctx, u))

		got, err := store.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Email, got.Email)
		assert.Equal(t, u.Name, got.Name)
		assert.Equal(t, u.PasswordHash, got.PasswordHash)
		assert.Equal(t, models.RoleUser, got.Role)
		assert.True(t, u.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", u.CreatedAt, got.CreatedAt)

		byEmail, err := store.GetUserByEmail(ctx, u.Email)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
	})

	t.Run("admin role round trips", func(t *testing.T) {
		u := newUser(models.RoleAdmin)
		require.NoError(t, store.CreateUser(ctx, u))

		got, err := store.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, got.Role)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetUser(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = store.GetUserByEmail(ctx, "nobody-"+uuid.NewString()+"@example.com")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		u := newUser(models.RoleUser)
		require.NoError(t, store.CreateUser(ctx, u))

		dup := newUser(models.RoleUser)
		dup.Email = u.Email
		err := store.CreateUser(ctx, dup)
		assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		u := newUser(models.RoleUser)
		require.NoError(t, store.CreateUser(ctx, u))

		dup := newUser(models.RoleUser)
		dup.ID = u.ID
		err := store.CreateUser(ctx, dup)
		assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
