package revocation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore keeps the ledger in a local SQLite file. Expiries are stored
// as Unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock overrides the store's clock.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore creates a ledger store on an existing database.
func NewSQLiteStore(db *sql.DB, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Revoke inserts the entry, or takes over an expired one. The upsert is a
// single statement, so it is atomic without an explicit transaction.
func (s *SQLiteStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_id, expires_at_ms) VALUES (?, ?)
		 ON CONFLICT (token_id) DO UPDATE SET expires_at_ms = excluded.expires_at_ms
		 WHERE revoked_tokens.expires_at_ms <= ?`,
		tokenID, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", tokenID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", tokenID, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id = ? AND expires_at_ms > ?)`,
		tokenID, s.now().UnixMilli(),
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", tokenID, err)
	}
	return revoked, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) TrackIssued(ctx context.Context, principalID, tokenID string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issued_tokens (principal_id, token_id, expires_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT (principal_id, token_id) DO UPDATE SET expires_at_ms = excluded.expires_at_ms`,
		principalID, tokenID, s.now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("track %s for %s: %w", tokenID, principalID, err)
	}
	return nil
}

func (s *SQLiteStore) IssuedTokens(ctx context.Context, principalID string) ([]IssuedToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token_id, expires_at_ms FROM issued_tokens
		 WHERE principal_id = ? AND expires_at_ms > ?
		 ORDER BY expires_at_ms`,
		principalID, s.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("list issued tokens for %s: %w", principalID, err)
	}
	defer rows.Close()

	var out []IssuedToken
	for rows.Next() {
		var (
			tok IssuedToken
			exp int64
		)
		if err := rows.Scan(&tok.TokenID, &exp); err != nil {
			return nil, fmt.Errorf("scan issued token: %w", err)
		}
		tok.ExpiresAt = time.UnixMilli(exp)
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list issued tokens for %s: %w", principalID, err)
	}
	return out, nil
}

// Purge deletes expired revocations and index entries.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	now := s.now().UnixMilli()
	var total int64
	for _, table := range []string{"revoked_tokens", "issued_tokens"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at_ms <= ?`, now)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}
