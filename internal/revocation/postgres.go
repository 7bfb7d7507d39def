package revocation

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/internal/database"
)

// PostgresStore keeps the ledger in the revoked_tokens and issued_tokens
// tables. Expired rows are ignored on read and removed by Purge.
type PostgresStore struct {
	db database.PgxConn
}

// NewPostgresStore creates a ledger store on an existing pool.
func NewPostgresStore(db database.PgxConn) *PostgresStore {
	return &PostgresStore{db: db}
}

// Revoke inserts the entry, or takes over an expired one.
func (s *PostgresStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO revoked_tokens (token_id, expires_at)
		 VALUES ($1, clock_timestamp() + $2::bigint * INTERVAL '1 millisecond')
		 ON CONFLICT (token_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
		 WHERE revoked_tokens.expires_at <= clock_timestamp()`,
		tokenID, ttl.Milliseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", tokenID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id = $1 AND expires_at > clock_timestamp())`,
		tokenID,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", tokenID, err)
	}
	return revoked, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) TrackIssued(ctx context.Context, principalID, tokenID string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO issued_tokens (principal_id, token_id, expires_at)
		 VALUES ($1, $2, clock_timestamp() + $3::bigint * INTERVAL '1 millisecond')
		 ON CONFLICT (principal_id, token_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		principalID, tokenID, ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("track %s for %s: %w", tokenID, principalID, err)
	}
	return nil
}

func (s *PostgresStore) IssuedTokens(ctx context.Context, principalID string) ([]IssuedToken, error) {
	rows, err := s.db.Query(ctx,
		`SELECT token_id, expires_at FROM issued_tokens
		 WHERE principal_id = $1 AND expires_at > clock_timestamp()
		 ORDER BY expires_at`,
		principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list issued tokens for %s: %w", principalID, err)
	}
	defer rows.Close()

	var out []IssuedToken
	for rows.Next() {
		var tok IssuedToken
		if err := rows.Scan(&tok.TokenID, &tok.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan issued token: %w", err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list issued tokens for %s: %w", principalID, err)
	}
	return out, nil
}

// Purge deletes expired revocations and index entries.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	var total int64
	for _, table := range []string{"revoked_tokens", "issued_tokens"} {
		tag, err := s.db.Exec(ctx, `DELETE FROM `+table+` WHERE expires_at <= clock_timestamp()`)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
