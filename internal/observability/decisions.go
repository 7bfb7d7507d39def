package observability

import (
	"context"

	"gatekeeper/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Decision outcomes recorded by DecisionMetrics.
const (
	OutcomeAllowed     = "allowed"
	OutcomeDenied      = "denied"
	OutcomeDegraded    = "degraded"
	OutcomeUnavailable = "unavailable"
)

// DecisionMetrics counts rate limit decisions by policy and outcome. It
// implements ratelimit.DecisionRecorder.
type DecisionMetrics struct {
	decisions metric.Int64Counter
}

var _ ratelimit.DecisionRecorder = (*DecisionMetrics)(nil)

func NewDecisionMetrics() (*DecisionMetrics, error) {
	meter := otel.Meter("gatekeeper/ratelimit")
	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	return &DecisionMetrics{decisions: decisions}, nil
}

func (m *DecisionMetrics) RecordDecision(ctx context.Context, d ratelimit.Decision) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", d.Policy),
		attribute.String("outcome", Outcome(d)),
	))
}

// Outcome classifies a decision.
func Outcome(d ratelimit.Decision) string {
	switch {
	case d.Unavailable:
		return OutcomeUnavailable
	case d.Degraded:
		return OutcomeDegraded
	case d.Allowed:
		return OutcomeAllowed
	default:
		return OutcomeDenied
	}
}
