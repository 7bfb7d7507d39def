package account

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/revocation"
	"gatekeeper/internal/security"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "account-test-secret-at-least-32-bytes"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type fixture struct {
	clock   *fakeClock
	users   *storage.MemoryStorage
	tokens  *token.Manager
	service *Service
}

func newFixture(t *testing.T, ledgerOpts ...revocation.LedgerOption) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := revocation.NewMemoryStore(revocation.WithMemoryClock(clock.Now))
	opts := append([]revocation.LedgerOption{revocation.WithTracking(true), revocation.WithClock(clock.Now)}, ledgerOpts...)
	ledger := revocation.NewLedger(store, opts...)

	tokens, err := token.NewManager(token.Config{Secret: []byte(testSecret), TTL: time.Hour}, ledger, token.WithClock(clock.Now))
	require.NoError(t, err)

	users := storage.NewMemoryStorage()
	return &fixture{
		clock:   clock,
		users:   users,
		tokens:  tokens,
		service: NewService(users, security.NewHasher(bcrypt.MinCost), tokens, ledger, nil),
	}
}

func requireServiceError(t *testing.T, err error, status int) *ServiceError {
	t.Helper()
	var se *ServiceError
	require.True(t, errors.As(err, &se), "expected ServiceError, got %v", err)
	assert.Equal(t, status, se.StatusCode, se.Error())
	return se
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.service.Register(ctx, &models.RegisterRequest{
		Email:    "  Alice@Example.com ",
		Password: "s3cret-password",
		Name:     "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	require.NotNil(t, resp.User)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.Equal(t, models.RoleUser, resp.User.Role)
	assert.Equal(t, f.clock.Now().Add(time.Hour), resp.ExpiresAt)

	p, err := f.tokens.Validate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, p.ID)

	stored, err := f.users.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-password", stored.PasswordHash)
}

func TestRegister_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, &models.RegisterRequest{Email: "bob@example.com", Password: "password1", Name: "Bob"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    models.RegisterRequest
		status int
	}{
		{name: "duplicate email", req: models.RegisterRequest{Email: "BOB@example.com", Password: "password1", Name: "Bob"}, status: http.StatusConflict},
		{name: "short password", req: models.RegisterRequest{Email: "c@example.com", Password: "short", Name: "C"}, status: http.StatusUnprocessableEntity},
		{name: "bad email", req: models.RegisterRequest{Email: "not-an-email", Password: "password1", Name: "C"}, status: http.StatusUnprocessableEntity},
		{name: "missing name", req: models.RegisterRequest{Email: "d@example.com", Password: "password1"}, status: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.service.Register(ctx, &req)
			requireServiceError(t, err, tt.status)
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, &models.RegisterRequest{Email: "carol@example.com", Password: "password1", Name: "Carol"})
	require.NoError(t, err)

	resp, err := f.service.Login(ctx, &models.LoginRequest{Email: "Carol@example.com", Password: "password1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "carol@example.com", resp.User.Email)

	wrong, err := f.service.Login(ctx, &models.LoginRequest{Email: "carol@example.com", Password: "password2"})
	assert.Nil(t, wrong)
	se := requireServiceError(t, err, http.StatusUnauthorized)

	_, err = f.service.Login(ctx, &models.LoginRequest{Email: "nobody@example.com", Password: "password1"})
	unknown := requireServiceError(t, err, http.StatusUnauthorized)
	assert.Equal(t, se.Message, unknown.Message, "unknown accounts are indistinguishable from wrong passwords")

	_, err = f.service.Login(ctx, &models.LoginRequest{Email: "carol@example.com"})
	requireServiceError(t, err, http.StatusUnprocessableEntity)
}

func TestRefreshAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.service.Register(ctx, &models.RegisterRequest{Email: "dave@example.com", Password: "password1", Name: "Dave"})
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	refreshed, err := f.service.Refresh(ctx, "Bearer "+reg.Token)
	require.NoError(t, err)
	assert.NotEqual(t, reg.Token, refreshed.Token)
	assert.Equal(t, f.clock.Now().Add(time.Hour), refreshed.ExpiresAt)

	// the old token is spent
	_, err = f.service.Refresh(ctx, reg.Token)
	se := requireServiceError(t, err, http.StatusUnauthorized)
	assert.Equal(t, "Invalid or expired token", se.Message)

	require.NoError(t, f.service.Logout(ctx, refreshed.Token))
	_, err = f.tokens.Validate(ctx, refreshed.Token)
	reason, ok := token.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, token.ReasonRevoked, reason)

	err = f.service.Logout(ctx, "garbage")
	se = requireServiceError(t, err, http.StatusUnauthorized)
	assert.Equal(t, "Invalid token format", se.Message)
}

func TestProfileAndGetUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.service.Register(ctx, &models.RegisterRequest{Email: "erin@example.com", Password: "password1", Name: "Erin"})
	require.NoError(t, err)
	other, err := f.service.Register(ctx, &models.RegisterRequest{Email: "frank@example.com", Password: "password1", Name: "Frank"})
	require.NoError(t, err)

	erin := &models.Principal{ID: reg.User.ID, Role: models.RoleUser}

	info, err := f.service.Profile(ctx, erin)
	require.NoError(t, err)
	assert.Equal(t, "Erin", info.Name)

	_, err = f.service.Profile(ctx, nil)
	requireServiceError(t, err, http.StatusUnauthorized)

	info, err = f.service.GetUser(ctx, erin, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, info.ID)

	_, err = f.service.GetUser(ctx, erin, other.User.ID)
	requireServiceError(t, err, http.StatusForbidden)

	admin := &models.Principal{ID: "admin", Role: models.RoleAdmin}
	info, err = f.service.GetUser(ctx, admin, other.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Frank", info.Name)

	_, err = f.service.GetUser(ctx, admin, "missing")
	requireServiceError(t, err, http.StatusNotFound)
}

func TestRevokeAllForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.service.Register(ctx, &models.RegisterRequest{Email: "gina@example.com", Password: "password1", Name: "Gina"})
	require.NoError(t, err)
	login, err := f.service.Login(ctx, &models.LoginRequest{Email: "gina@example.com", Password: "password1"})
	require.NoError(t, err)

	resp, err := f.service.RevokeAllForUser(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, resp.PrincipalID)
	assert.Equal(t, 2, resp.Revoked)

	for _, raw := range []string{reg.Token, login.Token} {
		_, err := f.tokens.Validate(ctx, raw)
		reason, _ := token.ReasonOf(err)
		assert.Equal(t, token.ReasonRevoked, reason)
	}

	_, err = f.service.RevokeAllForUser(ctx, "missing")
	requireServiceError(t, err, http.StatusNotFound)
}

func TestRevokeAllForUser_Unsupported(t *testing.T) {
	f := newFixture(t, revocation.WithTracking(false))
	ctx := context.Background()

	reg, err := f.service.Register(ctx, &models.RegisterRequest{Email: "hal@example.com", Password: "password1", Name: "Hal"})
	require.NoError(t, err)

	_, err = f.service.RevokeAllForUser(ctx, reg.User.ID)
	se := requireServiceError(t, err, http.StatusNotImplemented)
	assert.ErrorIs(t, se, revocation.ErrRevokeAllUnsupported)
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.EnsureAdmin(ctx, "Root@Example.com", "admin-password"))
	// idempotent
	require.NoError(t, f.service.EnsureAdmin(ctx, "root@example.com", "admin-password"))

	resp, err := f.service.Login(ctx, &models.LoginRequest{Email: "root@example.com", Password: "admin-password"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)

	err = f.service.EnsureAdmin(ctx, "root2@example.com", "short")
	requireServiceError(t, err, http.StatusUnprocessableEntity)
}

func TestFromTokenError(t *testing.T) {
	unavailable := &revocation.StoreUnavailableError{Operation: "is-revoked", Err: errors.New("down")}
	assert.Equal(t, http.StatusServiceUnavailable, fromTokenError(unavailable).StatusCode)
	assert.Equal(t, http.StatusInternalServerError, fromTokenError(errors.New("boom")).StatusCode)
	assert.Equal(t, http.StatusNotImplemented, fromTokenError(revocation.ErrRevokeAllUnsupported).StatusCode)
}
