package ratelimit

import (
	"errors"
	"fmt"

	"gatekeeper/internal/database"
	"gatekeeper/internal/models"
)

// NewStore creates the bucket store for backend on the shared connections.
// Supported backends:
//   - memory: in-process buckets (single instance only)
//   - redis: Lua-scripted buckets on the shared Redis client
//   - database: the shared PostgreSQL pool or SQLite database
func NewStore(backend string, conns *database.Connections) (BucketStore, error) {
	switch backend {
	case models.BackendMemory:
		return NewMemoryStore(), nil
	case models.BackendRedis:
		if conns == nil || conns.Redis == nil {
			return nil, errors.New("redis backend selected but no redis client is configured")
		}
		return NewRedisStore(conns.Redis, conns.KeyPrefix), nil
	case models.BackendDatabase:
		switch {
		case conns != nil && conns.Postgres != nil:
			return NewPostgresStore(conns.Postgres), nil
		case conns != nil && conns.SQLite != nil:
			return NewSQLiteStore(conns.SQLite), nil
		default:
			return nil, errors.New("database backend selected but no database is configured")
		}
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", backend)
	}
}

// SupportedBackends returns the backend names accepted by NewStore.
func SupportedBackends() []string {
	return []string{models.BackendMemory, models.BackendRedis, models.BackendDatabase}
}
