package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps revocations as "revoked:<jti>" keys and the principal
// index as "issued:<len>:<principal>:<jti>" keys, each expiring with its
// token. The byte length of the principal id keeps ids containing ':' from
// sharing a key prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a ledger store on an existing client. prefix is
// prepended to every key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) revokedKey(tokenID string) string {
	return s.prefix + "revoked:" + tokenID
}

func (s *RedisStore) issuedKey(principalID, tokenID string) string {
	return s.prefix + "issued:" + strconv.Itoa(len(principalID)) + ":" + principalID + ":" + tokenID
}

func (s *RedisStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, s.revokedKey(tokenID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", tokenID, err)
	}
	return created, nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", tokenID, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// TrackIssued stores the expiry in milliseconds as the key's value.
func (s *RedisStore) TrackIssued(ctx context.Context, principalID, tokenID string, ttl time.Duration) error {
	exp := time.Now().Add(ttl).UnixMilli()
	if err := s.client.Set(ctx, s.issuedKey(principalID, tokenID), exp, ttl).Err(); err != nil {
		return fmt.Errorf("track %s for %s: %w", tokenID, principalID, err)
	}
	return nil
}

func (s *RedisStore) IssuedTokens(ctx context.Context, principalID string) ([]IssuedToken, error) {
	prefix := s.issuedKey(principalID, "")
	pattern := escapeGlob(prefix) + "*"

	var out []IssuedToken
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.client.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			// expired between SCAN and GET
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		out = append(out, IssuedToken{
			TokenID:   strings.TrimPrefix(key, prefix),
			ExpiresAt: time.UnixMilli(val),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan issued tokens for %s: %w", principalID, err)
	}
	return out, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
