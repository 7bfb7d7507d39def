package storage

import (
	"context"
	"fmt"
	"sync"

	"gatekeeper/internal/models"
)

// MemoryStorage implements UserStore using in-memory maps. Data is lost on
// restart and is private to one replica.
type MemoryStorage struct {
	mu      sync.RWMutex
	users   map[string]*models.User // keyed by ID
	byEmail map[string]string       // email -> ID
}

// NewMemoryStorage creates an empty memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:   make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	// Return a copy to prevent external modification
	userCopy := *u
	return &userCopy, nil
}

func (m *MemoryStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
	}
	userCopy := *m.users[id]
	return &userCopy, nil
}

func (m *MemoryStorage) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; ok {
		return fmt.Errorf("user %s: %w", user.ID, ErrConflict)
	}
	if _, ok := m.byEmail[user.Email]; ok {
		return fmt.Errorf("email %s: %w", user.Email, ErrConflict)
	}

	userCopy := *user
	m.users[user.ID] = &userCopy
	m.byEmail[user.Email] = user.ID
	return nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}
