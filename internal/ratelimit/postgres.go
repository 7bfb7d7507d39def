package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/database"

	"github.com/jackc/pgx/v5"
)

// PostgresStore is a BucketStore backed by the rate_limit_buckets table.
// Consume is a single call to rate_limit_consume, which row-locks the bucket
// for the duration of the read-modify-write.
type PostgresStore struct {
	db database.PgxConn
}

// NewPostgresStore creates a bucket store on an existing pool. The schema
// comes from database.MigrateUp.
func NewPostgresStore(db database.PgxConn) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Consume(ctx context.Context, key string, policy Policy, points int) (Result, error) {
	if points < 1 {
		return Result{}, ErrInvalidPoints
	}

	var (
		allowed   bool
		remaining int
		resetMS   int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT out_allowed, out_remaining, out_reset_ms FROM rate_limit_consume($1, $2, $3, $4, $5)`,
		key, policy.Points, policy.Duration.Milliseconds(), policy.BlockDuration.Milliseconds(), points,
	).Scan(&allowed, &remaining, &resetMS)
	if err != nil {
		return Result{}, fmt.Errorf("consume %s: %w", key, err)
	}

	return Result{
		Allowed:    allowed,
		Remaining:  remaining,
		ResetAfter: time.Duration(resetMS) * time.Millisecond,
	}, nil
}

func (s *PostgresStore) Peek(ctx context.Context, key string, policy Policy) (Result, error) {
	var (
		remaining int
		resetMS   int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT remaining,
		        GREATEST(0, CEIL(EXTRACT(EPOCH FROM (window_end - clock_timestamp())) * 1000))::BIGINT
		   FROM rate_limit_buckets
		  WHERE bucket_key = $1 AND window_end > clock_timestamp()`,
		key,
	).Scan(&remaining, &resetMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{Allowed: true, Remaining: policy.Points}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("peek %s: %w", key, err)
	}

	return Result{
		Allowed:    remaining > 0,
		Remaining:  remaining,
		ResetAfter: time.Duration(resetMS) * time.Millisecond,
	}, nil
}

func (s *PostgresStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM rate_limit_buckets WHERE bucket_key = $1`, key); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Purge deletes buckets whose window has elapsed.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM rate_limit_buckets WHERE window_end <= clock_timestamp()`)
	if err != nil {
		return 0, fmt.Errorf("purge buckets: %w", err)
	}
	return tag.RowsAffected(), nil
}
