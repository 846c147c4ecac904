package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestSurveyMetricsToleratesNoopMeter(t *testing.T) {
	m := NewSurveyMetrics(noop.NewMeterProvider().Meter("test"), nil)
	m.RecordGeneration(context.Background(), "accepted", true, 120*time.Millisecond)
	m.RecordCompletion(context.Background(), false)

	var nilMetrics *SurveyMetrics
	nilMetrics.RecordGeneration(context.Background(), "malformed", false, time.Second)
	nilMetrics.RecordCompletion(context.Background(), true)
}

func TestSurveyMetricsRecordsByOutcome(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m := NewSurveyMetrics(provider.Meter("test"), nil)
	m.RecordGeneration(ctx, "accepted", true, 80*time.Millisecond)
	m.RecordGeneration(ctx, "malformed", false, 20*time.Millisecond)
	m.RecordGeneration(ctx, "accepted", true, 40*time.Millisecond)
	m.RecordCompletion(ctx, false)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	attempts := map[string]int64{}
	completions := map[bool]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch metric.Name {
				case "survey.generation.attempts":
					outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
					attempts[outcome.AsString()] += dp.Value
				case "survey.sessions.completed":
					persisted, _ := dp.Attributes.Value(attribute.Key("persisted"))
					completions[persisted.AsBool()] += dp.Value
				}
			}
		}
	}
	if attempts["accepted"] != 2 || attempts["malformed"] != 1 {
		t.Fatalf("unexpected generation attempts %v", attempts)
	}
	if completions[false] != 1 || completions[true] != 0 {
		t.Fatalf("unexpected completions %v", completions)
	}
}
