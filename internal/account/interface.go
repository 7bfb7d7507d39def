package account

import (
	"context"

	"gatekeeper/internal/models"
)

// ServiceInterface defines the account operations exposed over HTTP
type ServiceInterface interface {
	// Register creates a USER account and signs it in
	Register(ctx context.Context, req *models.RegisterRequest) (*models.TokenResponse, error)

	// Login exchanges credentials for a token
	Login(ctx context.Context, req *models.LoginRequest) (*models.TokenResponse, error)

	// Refresh rotates a token; the old one is revoked
	Refresh(ctx context.Context, raw string) (*models.TokenResponse, error)

	// Logout revokes a token for the rest of its lifetime
	Logout(ctx context.Context, raw string) error

	// Profile returns the account behind an authenticated principal
	Profile(ctx context.Context, principal *models.Principal) (*models.UserInfo, error)

	// GetUser returns an account visible to the principal
	GetUser(ctx context.Context, principal *models.Principal, id string) (*models.UserInfo, error)

	// RevokeAllForUser revokes every outstanding token of an account
	RevokeAllForUser(ctx context.Context, id string) (*models.RevokeAllResponse, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
