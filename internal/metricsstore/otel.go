package metricsstore

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Recorder emits OpenTelemetry spans and counters alongside the durable
// step_usage rows Store writes, so a step's cost and duration show up in
// whatever trace/metrics backend the deployment is wired to.
type Recorder struct {
	tracer       trace.Tracer
	tokenCounter metric.Int64Counter
	costCounter  metric.Float64Counter
}

// NewRecorder builds a Recorder against the global OpenTelemetry providers.
// Call this once per process; StartStep/RecordUsage are safe for concurrent
// use across steps.
func NewRecorder() (*Recorder, error) {
	meter := otel.Meter("chakravarti/metricsstore")

	tokenCounter, err := meter.Int64Counter("chakravarti.step.tokens",
		metric.WithDescription("input and output tokens consumed per step"))
	if err != nil {
		return nil, err
	}
	costCounter, err := meter.Float64Counter("chakravarti.step.cost_usd",
		metric.WithDescription("cost in USD attributed per step"))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		tracer:       otel.Tracer("chakravarti/metricsstore"),
		tokenCounter: tokenCounter,
		costCounter:  costCounter,
	}, nil
}

// StartStep opens a span covering a single step's execution, tagged with the
// job, step, and attempt IDs so traces can be filtered per Job.
func (r *Recorder) StartStep(ctx context.Context, jobID, stepID, attemptID string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "chakravarti.step",
		trace.WithAttributes(
			attribute.String("chakravarti.job_id", jobID),
			attribute.String("chakravarti.step_id", stepID),
			attribute.String("chakravarti.attempt_id", attemptID),
		))
}

// RecordUsage increments the token and cost counters for one completion
// call, tagged by model so per-model spend is visible without querying the
// SQLite store directly.
func (r *Recorder) RecordUsage(ctx context.Context, modelID string, inputTokens, outputTokens int64, costUSD float64) {
	attrs := metric.WithAttributes(attribute.String("chakravarti.model_id", modelID))
	r.tokenCounter.Add(ctx, inputTokens+outputTokens, attrs)
	r.costCounter.Add(ctx, costUSD, attrs)
}
