package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLiteStore is a BucketStore on a local SQLite file. Every consume runs in
// its own transaction; open the database with _txlock=immediate so the write
// lock is taken before the read. Replicas sharing the file on one host see
// one set of buckets.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	// serializes writers within this process
	mu sync.Mutex
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock overrides the store's clock.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore creates a bucket store on an existing database.
func NewSQLiteStore(db *sql.DB, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteStore) Consume(ctx context.Context, key string, policy Policy, points int) (Result, error) {
	if points < 1 {
		return Result{}, ErrInvalidPoints
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin consume %s: %w", key, err)
	}
	defer tx.Rollback()

	b, exists, err := loadBucket(ctx, tx, key)
	if err != nil {
		return Result{}, err
	}

	next, res, changed := consume(b, exists, policy, points, s.now())
	if changed {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rate_limit_buckets (bucket_key, remaining, window_end_ms, blocked)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (bucket_key) DO UPDATE SET
			   remaining = excluded.remaining,
			   window_end_ms = excluded.window_end_ms,
			   blocked = excluded.blocked`,
			key, next.remaining, next.windowEnd.UnixMilli(), next.blocked,
		)
		if err != nil {
			return Result{}, fmt.Errorf("save bucket %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit consume %s: %w", key, err)
	}
	return res, nil
}

func (s *SQLiteStore) Peek(ctx context.Context, key string, policy Policy) (Result, error) {
	b, exists, err := loadBucket(ctx, s.db, key)
	if err != nil {
		return Result{}, err
	}
	return peek(b, exists, policy, s.now()), nil
}

func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_buckets WHERE bucket_key = ?`, key); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Purge deletes buckets whose window has elapsed.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_buckets WHERE window_end_ms <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge buckets: %w", err)
	}
	return res.RowsAffected()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadBucket(ctx context.Context, q rowQuerier, key string) (bucket, bool, error) {
	var (
		b         bucket
		windowEnd int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT remaining, window_end_ms, blocked FROM rate_limit_buckets WHERE bucket_key = ?`, key,
	).Scan(&b.remaining, &windowEnd, &b.blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return bucket{}, false, nil
	}
	if err != nil {
		return bucket{}, false, fmt.Errorf("load bucket %s: %w", key, err)
	}
	b.windowEnd = time.UnixMilli(windowEnd)
	return b, true, nil
}
