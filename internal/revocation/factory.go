package revocation

import (
	"errors"
	"fmt"

	"gatekeeper/internal/database"
	"gatekeeper/internal/models"
)

// NewStore creates the ledger store for backend on the shared connections.
func NewStore(backend string, conns *database.Connections) (Store, error) {
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
		return nil, fmt.Errorf("unsupported revocation backend: %s", backend)
	}
}
