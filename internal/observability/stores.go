package observability

import (
	"context"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/revocation"
	"gatekeeper/internal/storage"

	"go.opentelemetry.io/otel/attribute"
)

// InstrumentedBucketStore wraps a ratelimit.BucketStore with tracing and
// metrics. Bucket keys are not recorded; they carry user ids and addresses.
type InstrumentedBucketStore struct {
	inner ratelimit.BucketStore
	in    *instrumenter
}

// NewInstrumentedBucketStore wraps inner.
func NewInstrumentedBucketStore(inner ratelimit.BucketStore) (*InstrumentedBucketStore, error) {
	in, err := newInstrumenter("ratelimit.store")
	if err != nil {
		return nil, err
	}
	return &InstrumentedBucketStore{inner: inner, in: in}, nil
}

func (s *InstrumentedBucketStore) Consume(ctx context.Context, key string, policy ratelimit.Policy, points int) (ratelimit.Result, error) {
	ctx, span := s.in.startSpan(ctx, "Consume", attribute.String("policy", policy.Name))
	start := time.Now()
	res, err := s.inner.Consume(ctx, key, policy, points)
	if err == nil {
		span.SetAttributes(attribute.Bool("allowed", res.Allowed))
	}
	s.in.record(ctx, span, "Consume", start, err)
	return res, err
}

func (s *InstrumentedBucketStore) Peek(ctx context.Context, key string, policy ratelimit.Policy) (ratelimit.Result, error) {
	ctx, span := s.in.startSpan(ctx, "Peek", attribute.String("policy", policy.Name))
	start := time.Now()
	res, err := s.inner.Peek(ctx, key, policy)
	s.in.record(ctx, span, "Peek", start, err)
	return res, err
}

func (s *InstrumentedBucketStore) Reset(ctx context.Context, key string) error {
	ctx, span := s.in.startSpan(ctx, "Reset")
	start := time.Now()
	err := s.inner.Reset(ctx, key)
	s.in.record(ctx, span, "Reset", start, err)
	return err
}

func (s *InstrumentedBucketStore) Ping(ctx context.Context) error {
	ctx, span := s.in.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.in.record(ctx, span, "Ping", start, err)
	return err
}

// InstrumentedRevocationStore wraps a revocation.Store with tracing and
// metrics.
type InstrumentedRevocationStore struct {
	inner revocation.Store
	in    *instrumenter
}

// instrumentedIndexedStore additionally forwards the principal index.
type instrumentedIndexedStore struct {
	*InstrumentedRevocationStore
	index revocation.PrincipalIndex
}

// NewInstrumentedRevocationStore wraps inner. The result implements
// revocation.PrincipalIndex exactly when inner does, so the ledger's
// capability check sees through the wrapper.
func NewInstrumentedRevocationStore(inner revocation.Store) (revocation.Store, error) {
	in, err := newInstrumenter("revocation.store")
	if err != nil {
		return nil, err
	}
	s := &InstrumentedRevocationStore{inner: inner, in: in}
	if index, ok := inner.(revocation.PrincipalIndex); ok {
		return &instrumentedIndexedStore{InstrumentedRevocationStore: s, index: index}, nil
	}
	return s, nil
}

func (s *InstrumentedRevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	ctx, span := s.in.startSpan(ctx, "Revoke")
	start := time.Now()
	created, err := s.inner.Revoke(ctx, tokenID, ttl)
	if err == nil {
		span.SetAttributes(attribute.Bool("created", created))
	}
	s.in.record(ctx, span, "Revoke", start, err)
	return created, err
}

func (s *InstrumentedRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ctx, span := s.in.startSpan(ctx, "IsRevoked")
	start := time.Now()
	revoked, err := s.inner.IsRevoked(ctx, tokenID)
	s.in.record(ctx, span, "IsRevoked", start, err)
	return revoked, err
}

func (s *InstrumentedRevocationStore) Ping(ctx context.Context) error {
	ctx, span := s.in.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.in.record(ctx, span, "Ping", start, err)
	return err
}

func (s *instrumentedIndexedStore) TrackIssued(ctx context.Context, principalID, tokenID string, ttl time.Duration) error {
	ctx, span := s.in.startSpan(ctx, "TrackIssued")
	start := time.Now()
	err := s.index.TrackIssued(ctx, principalID, tokenID, ttl)
	s.in.record(ctx, span, "TrackIssued", start, err)
	return err
}

func (s *instrumentedIndexedStore) IssuedTokens(ctx context.Context, principalID string) ([]revocation.IssuedToken, error) {
	ctx, span := s.in.startSpan(ctx, "IssuedTokens")
	start := time.Now()
	tokens, err := s.index.IssuedTokens(ctx, principalID)
	if err == nil {
		span.SetAttributes(attribute.Int("tokens", len(tokens)))
	}
	s.in.record(ctx, span, "IssuedTokens", start, err)
	return tokens, err
}

// InstrumentedUserStore wraps a storage.UserStore with tracing and metrics.
type InstrumentedUserStore struct {
	inner storage.UserStore
	in    *instrumenter
}

// NewInstrumentedUserStore wraps inner.
func NewInstrumentedUserStore(inner storage.UserStore) (*InstrumentedUserStore, error) {
	in, err := newInstrumenter("storage")
	if err != nil {
		return nil, err
	}
	return &InstrumentedUserStore{inner: inner, in: in}, nil
}

func (s *InstrumentedUserStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx, span := s.in.startSpan(ctx, "GetUser", attribute.String("user_id", id))
	start := time.Now()
	u, err := s.inner.GetUser(ctx, id)
	s.in.record(ctx, span, "GetUser", start, err)
	return u, err
}

func (s *InstrumentedUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, span := s.in.startSpan(ctx, "GetUserByEmail")
	start := time.Now()
	u, err := s.inner.GetUserByEmail(ctx, email)
	s.in.record(ctx, span, "GetUserByEmail", start, err)
	return u, err
}

func (s *InstrumentedUserStore) CreateUser(ctx context.Context, user *models.User) error {
	ctx, span := s.in.startSpan(ctx, "CreateUser", attribute.String("user_id", user.ID))
	start := time.Now()
	err := s.inner.CreateUser(ctx, user)
	s.in.record(ctx, span, "CreateUser", start, err)
	return err
}

func (s *InstrumentedUserStore) Ping(ctx context.Context) error {
	ctx, span := s.in.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.in.record(ctx, span, "Ping", start, err)
	return err
}
