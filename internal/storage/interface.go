package storage

import (
	"context"

	"gatekeeper/internal/models"
)

// UserStore defines persistence for account records. It provides a clean
// abstraction that can be implemented by different backends such as memory
// or a SQL database. Stores never own their connection; the composition
// root closes it.
type UserStore interface {
	// GetUser retrieves a user by ID. Returns ErrNotFound if absent.
	GetUser(ctx context.Context, id string) (*models.User, error)

	// GetUserByEmail retrieves a user by normalized email. Returns
	// ErrNotFound if absent.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// CreateUser stores a new user. Returns ErrConflict if the ID or email
	// is taken.
	CreateUser(ctx context.Context, user *models.User) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}
