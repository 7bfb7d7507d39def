package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"gatekeeper/internal/app"
	"gatekeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Integration tests that run several replicas against shared backends over
// real HTTP connections.

type replica struct {
	app    *app.App
	server *httptest.Server
}

func baseConfig(t *testing.T) *models.Config {
	t.Helper()
	cfg := models.NewDefaultConfig()
	cfg.Security.JWT.Secret = "integration-secret-at-least-32-bytes"
	cfg.Security.PasswordCost = bcrypt.MinCost
	cfg.Uploads.Dir = t.TempDir()
	return cfg
}

func sqliteConfig(t *testing.T) *models.Config {
	t.Helper()
	cfg := baseConfig(t)
	cfg.Storage.Type = models.StorageTypeDatabase
	cfg.Database.Driver = models.DatabaseDriverSQLite
	cfg.Database.DSN = filepath.Join(t.TempDir(), "shared.db")
	cfg.Database.AutoMigrate = true
	cfg.Security.RateLimit.Backend = models.BackendDatabase
	cfg.Security.Revocation.Backend = models.BackendDatabase
	return cfg
}

func startReplicas(t *testing.T, cfg *models.Config, n int) []*replica {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	replicas := make([]*replica, 0, n)
	for i := 0; i < n; i++ {
		a, err := app.New(context.Background(), cfg, log)
		require.NoError(t, err)
		srv := httptest.NewServer(a.Router)
		t.Cleanup(func() {
			srv.Close()
			a.Close()
		})
		replicas = append(replicas, &replica{app: a, server: srv})
	}
	return replicas
}

func (r *replica) post(t *testing.T, path string, body any, token string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	return r.send(t, http.MethodPost, path, reader, token)
}

func (r *replica) send(t *testing.T, method, path string, body io.Reader, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, r.server.URL+path, body)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readToken(t *testing.T, resp *http.Response) models.TokenResponse {
	t.Helper()
	var env struct {
		Data models.TokenResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Data
}

// runSharedStateScenario checks that buckets and revocations written through
// one replica are enforced by the others.
func runSharedStateScenario(t *testing.T, cfg *models.Config) {
	replicas := startReplicas(t, cfg, 2)
	a, b := replicas[0], replicas[1]

	// shared backends may outlive a previous run
	require.NoError(t, a.app.Limiter.Reset(context.Background(), models.PolicyAuth, "ip:127.0.0.1"))

	email := fmt.Sprintf("user-%d@example.com", time.Now().UnixNano())
	resp := a.post(t, "/api/auth/register",
		map[string]string{"email": email, "password": "password-123", "name": "Shared"}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tok := readToken(t, resp)

	// the token verifies on the other replica
	resp = b.send(t, http.MethodGet, "/api/auth/me", nil, tok.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the auth budget is shared: one registration plus logins alternating
	// between replicas exhaust it together
	limit := cfg.Security.RateLimit.Policies[models.PolicyAuth].Points
	login := map[string]string{"email": email, "password": "password-123"}
	for i := 1; i < limit; i++ {
		target := replicas[i%2]
		resp = target.post(t, "/api/auth/login", login, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, "login %d", i)
		assert.Equal(t, strconv.Itoa(limit-i-1), resp.Header.Get("X-RateLimit-Remaining"))
	}
	resp = a.post(t, "/api/auth/login", login, "")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// logout on one replica rejects the token on the other
	resp = a.post(t, "/api/auth/logout", nil, tok.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = b.send(t, http.MethodGet, "/api/auth/me", nil, tok.Token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_SharedSQLite(t *testing.T) {
	runSharedStateScenario(t, sqliteConfig(t))
}

func TestIntegration_SharedPostgres(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping PostgreSQL tests")
	}
	cfg := sqliteConfig(t)
	cfg.Database.Driver = models.DatabaseDriverPostgres
	cfg.Database.DSN = dsn
	runSharedStateScenario(t, cfg)
}

func TestIntegration_SharedRedis(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis tests")
	}
	cfg := sqliteConfig(t)
	cfg.Redis.Addr = addr
	cfg.Redis.KeyPrefix = fmt.Sprintf("gatekeeper-it-%d:", time.Now().UnixNano())
	cfg.Security.RateLimit.Backend = models.BackendRedis
	cfg.Security.Revocation.Backend = models.BackendRedis
	runSharedStateScenario(t, cfg)
}

func TestIntegration_MemoryBackendsAreIsolated(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Security.BootstrapAdmin = models.BootstrapAdminConfig{Email: "root@example.com", Password: "root-password-1"}
	replicas := startReplicas(t, cfg, 2)

	login := map[string]string{"email": "root@example.com", "password": "root-password-1"}
	resp := replicas[0].post(t, "/api/auth/login", login, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok := readToken(t, resp)

	// same signing key, separate in-process ledgers and buckets
	resp = replicas[1].send(t, http.MethodGet, "/api/auth/me", nil, tok.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = replicas[0].post(t, "/api/auth/logout", nil, tok.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = replicas[1].send(t, http.MethodGet, "/api/auth/me", nil, tok.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = replicas[1].post(t, "/api/auth/login", login, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "4", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestIntegration_HealthOverHTTP(t *testing.T) {
	replicas := startReplicas(t, sqliteConfig(t), 1)

	resp := replicas[0].send(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var health models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, models.StatusHealthy, health.Status)
	assert.Contains(t, health.Components, "users")
	assert.Contains(t, health.Components, "revocation")
	assert.Contains(t, health.Components, "rate_limit")
}
