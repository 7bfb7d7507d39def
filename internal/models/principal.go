package models

import "time"

// Role is the coarse authorization level carried in a token.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Principal is the authenticated identity derived from a validated token.
// It is never persisted; it lives for one request.
type Principal struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	TokenID   string    `json:"tokenId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Issuer    string    `json:"issuer,omitempty"`
	Audience  string    `json:"audience,omitempty"`
}

// IsAdmin reports whether the principal carries the ADMIN role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// RemainingLifetime is the time until the principal's token expires.
func (p *Principal) RemainingLifetime(now time.Time) time.Duration {
	return p.ExpiresAt.Sub(now)
}
