package storage

import (
	"errors"
	"fmt"

	"gatekeeper/internal/database"
	"gatekeeper/internal/models"
)

// NewUserStore creates the account store for storageType on the shared
// connections. Supported types:
//   - memory: in-process maps (development and tests)
//   - database: the shared PostgreSQL pool or SQLite database
func NewUserStore(storageType string, conns *database.Connections) (UserStore, error) {
	switch storageType {
	case models.StorageTypeMemory:
		return NewMemoryStorage(), nil
	case models.StorageTypeDatabase:
		switch {
		case conns != nil && conns.Postgres != nil:
			return NewPostgresStorage(conns.Postgres), nil
		case conns != nil && conns.SQLite != nil:
			return NewSQLiteStorage(conns.SQLite), nil
		default:
			return nil, errors.New("database storage selected but no database is configured")
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// SupportedTypes returns the storage types accepted by NewUserStore.
func SupportedTypes() []string {
	return []string{models.StorageTypeMemory, models.StorageTypeDatabase}
}
