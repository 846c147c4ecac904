package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/adperception/survey/internal/services"

// SurveyMetrics records generation and completion instruments on an OpenTelemetry meter.
type SurveyMetrics struct {
	generationLatency metric.Float64Histogram
	generations       metric.Int64Counter
	completions       metric.Int64Counter
}

// NewSurveyMetrics registers instruments on meter, or on the global provider when meter is nil.
// Instruments that fail to register are skipped.
func NewSurveyMetrics(meter metric.Meter, logger *zap.Logger) *SurveyMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &SurveyMetrics{}
	var err error
	if m.generationLatency, err = meter.Float64Histogram("survey.generation.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of ad batch generation including parsing"),
	); err != nil {
		logger.Warn("metrics: register generation latency", zap.Error(err))
	}
	if m.generations, err = meter.Int64Counter("survey.generation.attempts",
		metric.WithDescription("Ad batch generation attempts by outcome"),
	); err != nil {
		logger.Warn("metrics: register generation attempts", zap.Error(err))
	}
	if m.completions, err = meter.Int64Counter("survey.sessions.completed",
		metric.WithDescription("Completed rating sessions by persistence outcome"),
	); err != nil {
		logger.Warn("metrics: register completions", zap.Error(err))
	}
	return m
}

// RecordGeneration records one generation attempt. outcome is accepted, generation_failed,
// malformed or incomplete.
func (m *SurveyMetrics) RecordGeneration(ctx context.Context, outcome string, faithful bool, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("faithful", faithful),
	)
	if m.generationLatency != nil {
		m.generationLatency.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	}
	if m.generations != nil {
		m.generations.Add(ctx, 1, attrs)
	}
}

// RecordCompletion counts a session reaching Complete.
func (m *SurveyMetrics) RecordCompletion(ctx context.Context, persisted bool) {
	if m == nil || m.completions == nil {
		return
	}
	m.completions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("persisted", persisted)))
}
