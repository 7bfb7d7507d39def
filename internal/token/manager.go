// Package token issues and validates HS256 bearer tokens and ties them to the
// revocation ledger.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is used when Issue is called with a non-positive ttl.
const DefaultTTL = 24 * time.Hour

// Ledger is the part of the revocation ledger the manager depends on.
type Ledger interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Track(ctx context.Context, principalID, tokenID string, ttl time.Duration) error
}

// Claims is the token payload.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenID returns the jti, or one derived from the subject and issue time for
// tokens minted without it.
func (c *Claims) TokenID() string {
	if c.ID != "" {
		return c.ID
	}
	var iat int64
	if c.IssuedAt != nil {
		iat = c.IssuedAt.Unix()
	}
	sum := sha256.Sum256([]byte(c.Subject + ":" + strconv.FormatInt(iat, 10)))
	return hex.EncodeToString(sum[:])[:32]
}

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	TokenID   string
	Principal models.Principal
	ExpiresAt time.Time
}

// Config holds the signing parameters.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
}

// ConfigFromModel converts the configured JWT section.
func ConfigFromModel(cfg models.JWTConfig) Config {
	return Config{
		Secret:   []byte(cfg.Secret),
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		TTL:      cfg.TTL,
		Leeway:   cfg.Leeway,
	}
}

// Manager signs and validates tokens. It is safe for concurrent use.
type Manager struct {
	cfg    Config
	ledger Ledger
	now    func() time.Time
	logger *slog.Logger
	parser *jwt.Parser
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the manager's clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager. The secret must be at least
// models.MinJWTSecretLength bytes.
func NewManager(cfg Config, ledger Ledger, opts ...Option) (*Manager, error) {
	if len(cfg.Secret) < models.MinJWTSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", models.MinJWTSecretLength)
	}
	if ledger == nil {
		return nil, errors.New("revocation ledger is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	m := &Manager{
		cfg:    cfg,
		ledger: ledger,
		now:    time.Now,
		logger: slog.Default(),
		// claims are checked in verify
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the default token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.cfg.TTL
}

// Issue signs a token for principal. Only ID and Role are read from it.
func (m *Manager) Issue(ctx context.Context, principal models.Principal, ttl time.Duration) (Issued, error) {
	if principal.ID == "" {
		return Issued{}, errors.New("principal id is required")
	}
	if !principal.Role.Valid() {
		return Issued{}, fmt.Errorf("invalid role %q", principal.Role)
	}
	if ttl <= 0 {
		ttl = m.cfg.TTL
	}

	iat := m.now().Truncate(time.Second)
	exp := iat.Add(ttl)
	claims := Claims{
		Role: principal.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   principal.ID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign token: %w", err)
	}

	if err := m.ledger.Track(ctx, principal.ID, claims.ID, ttl+m.cfg.Leeway); err != nil {
		m.logger.WarnContext(ctx, "Failed to index issued token",
			"principal_id", principal.ID,
			"error", err,
		)
	}

	return Issued{
		Token:     signed,
		TokenID:   claims.ID,
		Principal: principalFromClaims(&claims),
		ExpiresAt: exp,
	}, nil
}

// Validate checks raw, with or without a "Bearer " prefix, and returns its
// principal. Checks run cheapest first: shape, signature, expiry, issuer,
// audience, then the ledger. Ledger failures are returned as-is.
func (m *Manager) Validate(ctx context.Context, raw string) (models.Principal, error) {
	claims, err := m.verify(raw)
	if err != nil {
		return models.Principal{}, err
	}

	jti := claims.TokenID()
	revoked, err := m.ledger.IsRevoked(ctx, jti)
	if err != nil {
		return models.Principal{}, err
	}
	if revoked {
		return models.Principal{}, invalid(ReasonRevoked, nil)
	}

	p := principalFromClaims(claims)
	p.TokenID = jti
	return p, nil
}

// Refresh exchanges a valid token for a new one and revokes the old one.
// Only one of several concurrent refreshes of the same token succeeds; the
// others are rejected as revoked. Ledger failures always reject.
func (m *Manager) Refresh(ctx context.Context, raw string) (Issued, error) {
	p, err := m.Validate(ctx, raw)
	if err != nil {
		return Issued{}, err
	}

	created, err := m.ledger.Revoke(ctx, p.TokenID, m.acceptedFor(p))
	if err != nil {
		return Issued{}, err
	}
	if !created {
		return Issued{}, invalid(ReasonRevoked, errors.New("token already refreshed or revoked"))
	}

	return m.Issue(ctx, models.Principal{ID: p.ID, Role: p.Role}, m.cfg.TTL)
}

// Revoke validates raw and revokes it for the rest of its lifetime.
func (m *Manager) Revoke(ctx context.Context, raw string) (models.Principal, error) {
	p, err := m.Validate(ctx, raw)
	if err != nil {
		return models.Principal{}, err
	}
	if _, err := m.ledger.Revoke(ctx, p.TokenID, m.acceptedFor(p)); err != nil {
		return models.Principal{}, err
	}
	return p, nil
}

// acceptedFor is how much longer verify accepts p's token, leeway included.
// Revocation entries must live at least this long.
func (m *Manager) acceptedFor(p models.Principal) time.Duration {
	return p.RemainingLifetime(m.now()) + m.cfg.Leeway
}

// DecodeUnsafe returns the claims of raw without verifying the signature or
// any claim. It is for administrative inspection only and must never gate
// access.
func (m *Manager) DecodeUnsafe(raw string) (*Claims, error) {
	raw, err := splitToken(raw)
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	if _, _, err := m.parser.ParseUnverified(raw, claims); err != nil {
		return nil, invalid(ReasonMalformed, err)
	}
	return claims, nil
}

func (m *Manager) verify(raw string) (*Claims, error) {
	raw, err := splitToken(raw)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = m.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.cfg.Secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, invalid(ReasonBadSignature, err)
	case err != nil:
		return nil, invalid(ReasonMalformed, err)
	}

	if claims.ExpiresAt == nil {
		return nil, invalid(ReasonMalformed, errors.New("missing exp claim"))
	}
	if !m.now().Before(claims.ExpiresAt.Add(m.cfg.Leeway)) {
		return nil, invalid(ReasonExpired, nil)
	}
	if claims.Issuer != "" && m.cfg.Issuer != "" && claims.Issuer != m.cfg.Issuer {
		return nil, invalid(ReasonBadIssuer, fmt.Errorf("issuer %q", claims.Issuer))
	}
	if len(claims.Audience) > 0 && m.cfg.Audience != "" && !slices.Contains(claims.Audience, m.cfg.Audience) {
		return nil, invalid(ReasonBadAudience, fmt.Errorf("audience %v", []string(claims.Audience)))
	}
	if claims.Subject == "" {
		return nil, invalid(ReasonMalformed, errors.New("missing sub claim"))
	}
	if !claims.Role.Valid() {
		return nil, invalid(ReasonMalformed, fmt.Errorf("invalid role %q", claims.Role))
	}
	return claims, nil
}

// splitToken strips an optional bearer prefix and checks for three
// non-empty segments.
func splitToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", invalid(ReasonMalformed, fmt.Errorf("expected 3 segments, got %d", len(parts)))
	}
	for _, part := range parts {
		if part == "" {
			return "", invalid(ReasonMalformed, errors.New("empty segment"))
		}
	}
	return raw, nil
}

func principalFromClaims(c *Claims) models.Principal {
	p := models.Principal{
		ID:      c.Subject,
		Role:    c.Role,
		TokenID: c.TokenID(),
		Issuer:  c.Issuer,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	if len(c.Audience) > 0 {
		p.Audience = c.Audience[0]
	}
	return p
}
