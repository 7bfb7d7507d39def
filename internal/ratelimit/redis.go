package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript runs the fixed-window consume inside Redis. Time comes from
// the Redis server so every replica shares one clock. Buckets expire at
// their window end.
var consumeScript = redis.NewScript(`
if redis.replicate_commands then redis.replicate_commands() end
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local points = tonumber(ARGV[1])
local duration = tonumber(ARGV[2])
local block = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'remaining', 'window_end', 'blocked')
local remaining = tonumber(state[1])
local window_end = tonumber(state[2])
local blocked = state[3] == '1'

if remaining == nil or window_end == nil or now >= window_end then
  remaining = points
  window_end = now + duration
  blocked = false
end

local allowed = 0
if remaining - cost >= 0 then
  remaining = remaining - cost
  allowed = 1
elseif block > 0 and not blocked then
  window_end = window_end + block
  blocked = true
end

local flag = '0'
if blocked then flag = '1' end
redis.call('HSET', KEYS[1], 'remaining', remaining, 'window_end', window_end, 'blocked', flag)
redis.call('PEXPIREAT', KEYS[1], window_end)
return {allowed, remaining, window_end - now}
`)

var peekScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local state = redis.call('HMGET', KEYS[1], 'remaining', 'window_end')
local remaining = tonumber(state[1])
local window_end = tonumber(state[2])
if remaining == nil or window_end == nil or now >= window_end then
  return {1, tonumber(ARGV[1]), 0}
end
local allowed = 0
if remaining > 0 then allowed = 1 end
return {allowed, remaining, window_end - now}
`)

// RedisStore is a BucketStore backed by Redis hashes. Each consume is one
// script evaluation, so it is atomic across replicas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a bucket store on an existing client. prefix is
// prepended to every key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix + "rl:"}
}

func (s *RedisStore) Consume(ctx context.Context, key string, policy Policy, points int) (Result, error) {
	if points < 1 {
		return Result{}, ErrInvalidPoints
	}

	vals, err := consumeScript.Run(ctx, s.client, []string{s.prefix + key},
		policy.Points,
		policy.Duration.Milliseconds(),
		policy.BlockDuration.Milliseconds(),
		points,
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("consume %s: %w", key, err)
	}
	return scriptResult(vals)
}

func (s *RedisStore) Peek(ctx context.Context, key string, policy Policy) (Result, error) {
	vals, err := peekScript.Run(ctx, s.client, []string{s.prefix + key}, policy.Points).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("peek %s: %w", key, err)
	}
	return scriptResult(vals)
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func scriptResult(vals []int64) (Result, error) {
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("unexpected script reply length %d", len(vals))
	}
	reset := time.Duration(vals[2]) * time.Millisecond
	if reset < 0 {
		reset = 0
	}
	return Result{
		Allowed:    vals[0] == 1,
		Remaining:  int(vals[1]),
		ResetAfter: reset,
	}, nil
}
