package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// DefaultStoreTimeout bounds each store call independently of the request deadline.
const DefaultStoreTimeout = 100 * time.Millisecond

// Identity is the caller a quota is charged to.
type Identity struct {
	PrincipalID string
	RemoteAddr  string
}

// Key returns "user:<id>" for authenticated callers and "ip:<addr>" otherwise.
func (i Identity) Key() string {
	if i.PrincipalID != "" {
		return "user:" + i.PrincipalID
	}
	if i.RemoteAddr == "" {
		return "ip:unknown"
	}
	return "ip:" + i.RemoteAddr
}

// Decision is the outcome of a Check.
type Decision struct {
	Policy     string
	Key        string
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Message    string

	// Degraded is set when the store failed and the request was let through.
	Degraded bool
	// Unavailable is set when the store failed and the request was denied.
	Unavailable bool
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds, at least 1.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// DecisionRecorder observes every decision, e.g. for metrics.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d Decision)
}

// Limiter applies named policies against a BucketStore. It is safe for
// concurrent use.
type Limiter struct {
	store    BucketStore
	policies map[string]Policy
	timeout  time.Duration
	failOpen bool
	now      func() time.Time
	logger   *slog.Logger
	recorder DecisionRecorder

	// throttles store failure warnings
	warn *rate.Sometimes
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStoreTimeout sets the per-call store timeout.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithFailOpen selects whether store failures allow (true) or deny (false) requests.
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) {
		l.failOpen = failOpen
	}
}

// WithLogger sets the logger used for store failure warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithClock overrides the clock used to compute ResetAt.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithRecorder registers a decision observer.
func WithRecorder(r DecisionRecorder) Option {
	return func(l *Limiter) {
		l.recorder = r
	}
}

// NewLimiter creates a limiter over store with the given policies. Fail-open
// is the default.
func NewLimiter(store BucketStore, policies []Policy, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		store:    store,
		policies: make(map[string]Policy, len(policies)),
		timeout:  DefaultStoreTimeout,
		failOpen: true,
		now:      time.Now,
		logger:   slog.Default(),
		warn:     &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, p := range policies {
		if p.Name == "" {
			return nil, fmt.Errorf("policy name cannot be empty")
		}
		if p.Points <= 0 || p.Duration <= 0 {
			return nil, fmt.Errorf("policy %q: points and duration must be positive", p.Name)
		}
		l.policies[p.Name] = p
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the named policy.
func (l *Limiter) Policy(name string) (Policy, error) {
	p, ok := l.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
	return p, nil
}

// Policies returns the configured policy names, sorted.
func (l *Limiter) Policies() []string {
	names := make([]string, 0, len(l.policies))
	for name := range l.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BucketKey is the store key for a policy and identity key.
func BucketKey(policy, identityKey string) string {
	return policy + ":" + identityKey
}

// Check consumes one point from the caller's bucket for policyName. The only
// error is ErrUnknownPolicy; store failures are absorbed into the Decision
// according to the fail-open setting.
func (l *Limiter) Check(ctx context.Context, policyName string, id Identity) (Decision, error) {
	policy, err := l.Policy(policyName)
	if err != nil {
		return Decision{}, err
	}

	key := BucketKey(policy.Name, id.Key())
	d := Decision{
		Policy:  policy.Name,
		Key:     key,
		Limit:   policy.Points,
		Message: policy.Message,
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.now()
	res, err := l.store.Consume(storeCtx, key, policy, 1)
	if err != nil {
		l.storeFailed(ctx, &StoreUnavailableError{Operation: "consume", Err: err}, key)
		d.ResetAt = now
		if l.failOpen {
			d.Allowed = true
			d.Degraded = true
			d.Remaining = policy.Points
		} else {
			d.Unavailable = true
			d.RetryAfter = time.Second
		}
		l.record(ctx, d)
		return d, nil
	}

	d.Allowed = res.Allowed
	d.Remaining = res.Remaining
	d.ResetAt = now.Add(res.ResetAfter)
	if !res.Allowed {
		d.RetryAfter = res.ResetAfter
	}
	l.record(ctx, d)
	return d, nil
}

// Peek reports a bucket without consuming from it.
func (l *Limiter) Peek(ctx context.Context, policyName, identityKey string) (Decision, error) {
	policy, err := l.Policy(policyName)
	if err != nil {
		return Decision{}, err
	}

	key := BucketKey(policy.Name, identityKey)
	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.now()
	res, err := l.store.Peek(storeCtx, key, policy)
	if err != nil {
		return Decision{}, &StoreUnavailableError{Operation: "peek", Err: err}
	}

	return Decision{
		Policy:    policy.Name,
		Key:       key,
		Allowed:   res.Allowed,
		Limit:     policy.Points,
		Remaining: res.Remaining,
		ResetAt:   now.Add(res.ResetAfter),
		Message:   policy.Message,
	}, nil
}

// Reset clears a bucket.
func (l *Limiter) Reset(ctx context.Context, policyName, identityKey string) error {
	policy, err := l.Policy(policyName)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.store.Reset(storeCtx, BucketKey(policy.Name, identityKey)); err != nil {
		return &StoreUnavailableError{Operation: "reset", Err: err}
	}
	return nil
}

// Ping checks the underlying store.
func (l *Limiter) Ping(ctx context.Context) error {
	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.Ping(storeCtx)
}

func (l *Limiter) storeFailed(ctx context.Context, err error, key string) {
	l.warn.Do(func() {
		l.logger.WarnContext(ctx, "Rate limit store unavailable",
			"error", err,
			"key", key,
			"fail_open", l.failOpen,
		)
	})
}

func (l *Limiter) record(ctx context.Context, d Decision) {
	if l.recorder != nil {
		l.recorder.RecordDecision(ctx, d)
	}
}
