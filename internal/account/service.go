// Package account implements registration, login and the token lifecycle
// endpoints on top of the user store, the password hasher and the token
// manager.
package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/security"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/token"
)

// Tokens is the part of token.Manager the service uses.
type Tokens interface {
	Issue(ctx context.Context, principal models.Principal, ttl time.Duration) (token.Issued, error)
	Refresh(ctx context.Context, raw string) (token.Issued, error)
	Revoke(ctx context.Context, raw string) (models.Principal, error)
}

// PrincipalRevoker revokes every token issued to a principal.
type PrincipalRevoker interface {
	RevokeAllForPrincipal(ctx context.Context, principalID string) (int, error)
}

// Service handles account business logic
type Service struct {
	users   storage.UserStore
	hasher  *security.Hasher
	tokens  Tokens
	revoker PrincipalRevoker
	logger  *slog.Logger
}

// NewService creates a new account service
func NewService(users storage.UserStore, hasher *security.Hasher, tokens Tokens, revoker PrincipalRevoker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		revoker: revoker,
		logger:  logger,
	}
}

func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.TokenResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, NewValidationError("password cannot be used", err)
	}

	user := models.NewUser(req.Email, req.Name, hash, models.RoleUser)
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, NewConflictError("an account with this email already exists")
		}
		return nil, NewInternalError("failed to create account", err)
	}

	logger.FromContext(ctx).InfoContext(ctx, "Account registered", "user_id", user.ID)
	return s.signIn(ctx, user)
}

// Login verifies credentials. Unknown emails and wrong passwords get the
// same error and take the same time.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.TokenResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, NewInternalError("failed to load account", err)
		}
		s.hasher.Burn(req.Password)
		return nil, NewUnauthorizedError("Invalid email or password", err)
	}

	if err := s.hasher.Verify(user.PasswordHash, req.Password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return nil, NewUnauthorizedError("Invalid email or password", err)
		}
		return nil, NewInternalError("failed to verify credentials", err)
	}

	return s.signIn(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, raw string) (*models.TokenResponse, error) {
	issued, err := s.tokens.Refresh(ctx, raw)
	if err != nil {
		return nil, fromTokenError(err)
	}
	return tokenResponse(issued, nil), nil
}

func (s *Service) Logout(ctx context.Context, raw string) error {
	p, err := s.tokens.Revoke(ctx, raw)
	if err != nil {
		return fromTokenError(err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "Token revoked", "user_id", p.ID, "token_id", p.TokenID)
	return nil
}

func (s *Service) Profile(ctx context.Context, principal *models.Principal) (*models.UserInfo, error) {
	if principal == nil {
		return nil, NewUnauthorizedError("Authentication required", nil)
	}
	return s.lookup(ctx, principal.ID)
}

// GetUser lets a principal read its own account; admins can read any.
func (s *Service) GetUser(ctx context.Context, principal *models.Principal, id string) (*models.UserInfo, error) {
	if principal == nil {
		return nil, NewUnauthorizedError("Authentication required", nil)
	}
	if principal.ID != id && !principal.IsAdmin() {
		return nil, NewForbiddenError("Insufficient permissions for this operation")
	}
	return s.lookup(ctx, id)
}

func (s *Service) RevokeAllForUser(ctx context.Context, id string) (*models.RevokeAllResponse, error) {
	if _, err := s.lookup(ctx, id); err != nil {
		return nil, err
	}
	n, err := s.revoker.RevokeAllForPrincipal(ctx, id)
	if err != nil {
		return nil, fromTokenError(err)
	}
	return &models.RevokeAllResponse{PrincipalID: id, Revoked: n}, nil
}

// EnsureAdmin creates an ADMIN account for email unless one exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	req := &models.RegisterRequest{Email: email, Password: password, Name: "Administrator"}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return NewValidationError("invalid bootstrap admin", err)
	}

	if _, err := s.users.GetUserByEmail(ctx, req.Email); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return NewInternalError("failed to look up bootstrap admin", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return NewValidationError("invalid bootstrap admin password", err)
	}
	admin := models.NewUser(req.Email, req.Name, hash, models.RoleAdmin)
	if err := s.users.CreateUser(ctx, admin); err != nil && !errors.Is(err, storage.ErrConflict) {
		return NewInternalError("failed to create bootstrap admin", err)
	}

	s.logger.InfoContext(ctx, "Bootstrap admin ensured", "email", req.Email)
	return nil
}

func (s *Service) lookup(ctx context.Context, id string) (*models.UserInfo, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError("user not found")
		}
		return nil, NewInternalError("failed to load account", err)
	}
	return user.Info(), nil
}

func (s *Service) signIn(ctx context.Context, user *models.User) (*models.TokenResponse, error) {
	issued, err := s.tokens.Issue(ctx, models.Principal{ID: user.ID, Role: user.Role}, 0)
	if err != nil {
		return nil, NewInternalError("failed to issue token", err)
	}
	return tokenResponse(issued, user.Info()), nil
}

func tokenResponse(issued token.Issued, user *models.UserInfo) *models.TokenResponse {
	return &models.TokenResponse{
		Token:     issued.Token,
		TokenType: "Bearer",
		ExpiresAt: issued.ExpiresAt,
		User:      user,
	}
}
