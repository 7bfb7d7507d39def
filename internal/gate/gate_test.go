package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/revocation"
	"gatekeeper/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "gate-test-secret-at-least-32-bytes-long"

var testEpoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

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

type downBucketStore struct{}

func (downBucketStore) Consume(context.Context, string, ratelimit.Policy, int) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}
func (downBucketStore) Peek(context.Context, string, ratelimit.Policy) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}
func (downBucketStore) Reset(context.Context, string) error {
	return errors.New("redis: connection refused")
}
func (downBucketStore) Ping(context.Context) error { return errors.New("redis: connection refused") }

type downLedgerStore struct{}

func (downLedgerStore) Revoke(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}
func (downLedgerStore) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}
func (downLedgerStore) Ping(context.Context) error { return errors.New("connection refused") }

var testPolicies = []ratelimit.Policy{
	{Name: "general", Points: 100, Duration: time.Minute, Message: "Too many requests, please try again later."},
	{Name: "auth", Points: 5, Duration: 15 * time.Minute, Message: "Too many authentication attempts, please try again later."},
	{Name: "sensitive", Points: 3, Duration: 30 * time.Minute, Message: "Too many sensitive operations, please try again later."},
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

type fixture struct {
	clock   *fakeClock
	ledger  *revocation.Ledger
	tokens  *token.Manager
	limiter *ratelimit.Limiter
	gate    *Gate
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &fakeClock{now: testEpoch}
	ledger := revocation.NewLedger(
		revocation.NewMemoryStore(revocation.WithMemoryClock(clock.Now)),
		revocation.WithClock(clock.Now),
		revocation.WithLogger(quietLogger()),
	)
	tokens, err := token.NewManager(token.Config{Secret: []byte(testSecret), Issuer: "gatekeeper"}, ledger,
		token.WithClock(clock.Now), token.WithLogger(quietLogger()))
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter(
		ratelimit.NewMemoryStore(ratelimit.WithMemoryClock(clock.Now)),
		testPolicies,
		ratelimit.WithClock(clock.Now),
		ratelimit.WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return &fixture{
		clock:   clock,
		ledger:  ledger,
		tokens:  tokens,
		limiter: limiter,
		gate:    New(tokens, limiter, opts...),
	}
}

func (f *fixture) issue(t *testing.T, id string, role models.Role) string {
	t.Helper()
	issued, err := f.tokens.Issue(context.Background(), models.Principal{ID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return issued.Token
}

// principalEcho writes the principal id seen by the handler.
func principalEcho(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		w.Write([]byte("anonymous"))
		return
	}
	w.Write([]byte(p.ID))
}

func serve(h http.Handler, token, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.False(t, resp.Success)
	return resp
}

func TestProtect_PublicRouteWithoutToken(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "auth"})(http.HandlerFunc(principalEcho))

	rr := serve(h, "", "203.0.113.9:5555")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "anonymous", rr.Body.String())
	assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2025-01-01T12:15:00Z", rr.Header().Get("X-RateLimit-Reset"))
}

func TestProtect_MissingToken(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "general", RequireAuth: true})(http.HandlerFunc(principalEcho))

	rr := serve(h, "", "203.0.113.9:5555")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, "Authentication required", resp.Message)
	assert.Equal(t, models.ErrorCodeUnauthorized, resp.Code)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"), "rejected before rate limiting")
}

func TestProtect_InvalidTokenMessagesAreGeneric(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "general", RequireAuth: true})(http.HandlerFunc(principalEcho))

	valid := f.issue(t, "u1", models.RoleUser)
	revoked := f.issue(t, "u2", models.RoleUser)
	_, err := f.tokens.Revoke(context.Background(), revoked)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	expiredSoon, err := f.tokens.Issue(context.Background(), models.Principal{ID: "u3", Role: models.RoleUser}, time.Minute)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{name: "malformed", token: "not-a-token", message: "Invalid token format"},
		{name: "revoked", token: revoked, message: "Invalid or expired token"},
		{name: "expired", token: expiredSoon.Token, message: "Invalid or expired token"},
		{name: "bad signature", token: valid[:len(valid)-4] + "AAAA", message: "Invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, tt.token, "203.0.113.9:5555")
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			resp := decodeError(t, rr)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestProtect_InvalidTokenOnOptionalRoute(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "auth"})(http.HandlerFunc(principalEcho))

	rr := serve(h, "garbage", "203.0.113.9:5555")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestProtect_ValidTokenAttachesPrincipal(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "general", RequireAuth: true})(http.HandlerFunc(principalEcho))

	rr := serve(h, f.issue(t, "user-42", models.RoleUser), "203.0.113.9:5555")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-42", rr.Body.String())
	assert.Equal(t, "99", rr.Header().Get("X-RateLimit-Remaining"))

	d, err := f.limiter.Peek(context.Background(), "general", "user:user-42")
	require.NoError(t, err)
	assert.Equal(t, 99, d.Remaining, "authenticated requests are charged to the principal")

	d, err = f.limiter.Peek(context.Background(), "general", "ip:203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, 100, d.Remaining)
}

func TestProtect_RateLimited(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "auth"})(http.HandlerFunc(principalEcho))

	for i := 0; i < 5; i++ {
		rr := serve(h, "", "198.51.100.1:4000")
		require.Equal(t, http.StatusOK, rr.Code)
	}

	f.clock.Advance(time.Minute)
	rr := serve(h, "", "198.51.100.1:4000")

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, strconv.Itoa(14*60), rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	resp := decodeError(t, rr)
	assert.Equal(t, "Too many authentication attempts, please try again later.", resp.Message)
	assert.Equal(t, models.ErrorCodeRateLimited, resp.Code)
	assert.Equal(t, 14*60, resp.RetryAfter)

	// another address has its own bucket
	rr = serve(h, "", "198.51.100.2:4000")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProtect_PrincipalAndAddressBucketsAreSeparate(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "general"})(http.HandlerFunc(principalEcho))

	const userAddr = "203.0.113.9:5555"
	raw := f.issue(t, "user-7", models.RoleUser)

	// anonymous traffic from the user's address is charged to the address
	for i := 0; i < 50; i++ {
		rr := serve(h, "", userAddr)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	for i := 0; i < 100; i++ {
		rr := serve(h, raw, userAddr)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
		require.Equal(t, strconv.Itoa(99-i), rr.Header().Get("X-RateLimit-Remaining"))
		f.clock.Advance(500 * time.Millisecond)
	}

	rr := serve(h, raw, userAddr)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "10", rr.Header().Get("Retry-After"))
	assert.Equal(t, models.ErrorCodeRateLimited, decodeError(t, rr).Code)

	tests := []struct {
		name      string
		addr      string
		remaining string
	}{
		{name: "other address", addr: "198.51.100.20:4000", remaining: "99"},
		{name: "user's address", addr: userAddr, remaining: "49"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, "", tt.addr)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "anonymous", rr.Body.String())
			assert.Equal(t, tt.remaining, rr.Header().Get("X-RateLimit-Remaining"))
		})
	}

	d, err := f.limiter.Peek(context.Background(), "general", "user:user-7")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Remaining)
}

func TestProtect_RejectedTokenIsNotCharged(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "general", RequireAuth: true})(http.HandlerFunc(principalEcho))

	raw := f.issue(t, "u1", models.RoleUser)
	_, err := f.tokens.Revoke(context.Background(), raw)
	require.NoError(t, err)

	rr := serve(h, raw, "203.0.113.9:5555")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	d, err := f.limiter.Peek(context.Background(), "general", "user:u1")
	require.NoError(t, err)
	assert.Equal(t, 100, d.Remaining)
}

func TestProtect_RoleCheck(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "sensitive", RequireAuth: true, Role: models.RoleAdmin})(http.HandlerFunc(principalEcho))

	rr := serve(h, f.issue(t, "plain-user", models.RoleUser), "203.0.113.9:5555")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, models.ErrorCodeForbidden, resp.Code)

	// the role check runs after rate limiting, so the attempt was charged
	d, err := f.limiter.Peek(context.Background(), "sensitive", "user:plain-user")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Remaining)

	rr = serve(h, f.issue(t, "admin", models.RoleAdmin), "203.0.113.9:5555")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "admin", rr.Body.String())

	// ADMIN satisfies USER routes
	userRoute := f.gate.Protect(Route{RequireAuth: true, Role: models.RoleUser})(http.HandlerFunc(principalEcho))
	rr = serve(userRoute, f.issue(t, "admin", models.RoleAdmin), "203.0.113.9:5555")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProtect_RateLimitStoreDown(t *testing.T) {
	clock := &fakeClock{now: testEpoch}
	ledger := revocation.NewLedger(revocation.NewMemoryStore())
	tokens, err := token.NewManager(token.Config{Secret: []byte(testSecret)}, ledger, token.WithClock(clock.Now))
	require.NoError(t, err)

	t.Run("fail open", func(t *testing.T) {
		limiter, err := ratelimit.NewLimiter(downBucketStore{}, testPolicies, ratelimit.WithLogger(quietLogger()))
		require.NoError(t, err)
		h := New(tokens, limiter, WithLogger(quietLogger())).Protect(Route{Policy: "general"})(http.HandlerFunc(principalEcho))

		rr := serve(h, "", "203.0.113.9:5555")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("X-RateLimit-Remaining"), "no quota headers when the store is down")
	})

	t.Run("fail closed", func(t *testing.T) {
		limiter, err := ratelimit.NewLimiter(downBucketStore{}, testPolicies,
			ratelimit.WithFailOpen(false), ratelimit.WithLogger(quietLogger()))
		require.NoError(t, err)
		h := New(tokens, limiter, WithLogger(quietLogger())).Protect(Route{Policy: "general"})(http.HandlerFunc(principalEcho))

		rr := serve(h, "", "203.0.113.9:5555")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "1", rr.Header().Get("Retry-After"))
		resp := decodeError(t, rr)
		assert.Equal(t, "Service temporarily unavailable", resp.Message)
		assert.NotContains(t, resp.Message, "redis")
	})
}

func TestProtect_LedgerDown(t *testing.T) {
	clock := &fakeClock{now: testEpoch}
	ledger := revocation.NewLedger(downLedgerStore{}, revocation.WithLogger(quietLogger()))
	tokens, err := token.NewManager(token.Config{Secret: []byte(testSecret)}, ledger,
		token.WithClock(clock.Now), token.WithLogger(quietLogger()))
	require.NoError(t, err)
	issued, err := tokens.Issue(context.Background(), models.Principal{ID: "u", Role: models.RoleUser}, time.Hour)
	require.NoError(t, err)

	h := New(tokens, nil, WithLogger(quietLogger())).Protect(Route{RequireAuth: true})(http.HandlerFunc(principalEcho))
	rr := serve(h, issued.Token, "203.0.113.9:5555")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestProtect_UnknownPolicy(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{Policy: "nope"})(http.HandlerFunc(principalEcho))

	rr := serve(h, "", "203.0.113.9:5555")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestProtect_RequestIDInBody(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Protect(Route{RequireAuth: true})(http.HandlerFunc(principalEcho))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(logger.WithRequestID(req.Context(), "01HZXYZ"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	resp := decodeError(t, rr)
	assert.Equal(t, "01HZXYZ", resp.RequestID)
}

func TestEvaluate_Stages(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+f.issue(t, "u1", models.RoleUser))
	out, rej := f.gate.Evaluate(req, Route{Policy: "general", RequireAuth: true})
	require.Nil(t, rej)
	assert.Equal(t, StageRoleChecked, out.Stage)
	require.NotNil(t, out.Principal)
	assert.Equal(t, "u1", out.Principal.ID)

	out, rej = f.gate.Evaluate(httptest.NewRequest(http.MethodGet, "/test", nil), Route{RequireAuth: true})
	require.NotNil(t, rej)
	assert.Equal(t, StageRejected, out.Stage)
	assert.Equal(t, ReasonMissingToken, rej.Reason)
	assert.Contains(t, rej.Error(), "missing-token")
}

func TestPrincipalFromContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithPrincipal(context.Background(), &models.Principal{ID: "x"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "x", p.ID)
}

func TestProtect_TrustedProxyKeysByForwardedAddress(t *testing.T) {
	f := newFixture(t, WithTrustProxyHeaders(true))
	h := f.gate.Protect(Route{Policy: "auth"})(http.HandlerFunc(principalEcho))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "198.51.100.77")
	h.ServeHTTP(httptest.NewRecorder(), req)

	d, err := f.limiter.Peek(context.Background(), "auth", "ip:198.51.100.77")
	require.NoError(t, err)
	assert.Equal(t, 4, d.Remaining)
}
