package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	tel, err := New(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "collector.acme.dev:4317"

	tel, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_LogsWhenEnabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	logger := logging.NewTestLogger()

	tel, err := New(context.Background(), cfg, logger.Logger,
		WithSpanExporter(tracetest.NewInMemoryExporter()), WithMetricExporter(noopMetricExporter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	logger.AssertLogged(t, zapcore.InfoLevel, "telemetry export enabled")
	logger.AssertField(t, "telemetry export enabled", "protocol", ProtocolGRPC)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.Equal(t, HealthStatus{Healthy: false, Degraded: true}, tel.Health())
}

func TestTelemetry_Shutdown(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ShutdownTimeout = 100 * time.Millisecond

	tel, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, tel.ForceFlush(context.Background()))
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	tracer := tt.Tracer("test")

	_, pass := tracer.Start(context.Background(), "executor.run")
	pass.SetAttributes(
		attribute.String("issue.key", "KAN-7"),
		attribute.Int64("attempts", 2),
		attribute.Float64("ratio", 0.5),
		attribute.Bool("tracking", true),
	)
	pass.End()
	_, fix := tracer.Start(context.Background(), "executor.autofix")
	fix.End()

	assert.Len(t, tt.Spans(), 2)
	assert.Nil(t, tt.SpanByName("missing"))
	tt.AssertSpanExists(t, "executor.autofix")
	tt.AssertSpanAttribute(t, "executor.run", "issue.key", "KAN-7")
	tt.AssertSpanAttribute(t, "executor.run", "attempts", int64(2))
	tt.AssertSpanAttribute(t, "executor.run", "ratio", 0.5)
	tt.AssertSpanAttribute(t, "executor.run", "tracking", true)
}

func TestTestTelemetry_Metrics(t *testing.T) {
	tt := NewTestTelemetry()

	counter, err := tt.Meter("test").Int64Counter("pipelined.test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
	counter.Add(context.Background(), 2)

	require.NoError(t, tt.MetricReader.ForceFlush(context.Background()))
	assert.NotEmpty(t, tt.MetricReader.Metrics())

	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, "pipelined.test.counter", rm.ScopeMetrics[0].Metrics[0].Name)
}

func TestTestTelemetry_Install(t *testing.T) {
	before := otel.GetTracerProvider()

	t.Run("installed", func(t *testing.T) {
		tt := NewTestTelemetry()
		tt.Install(t)

		_, span := otel.Tracer("pipelined/test").Start(context.Background(), "global-span")
		span.End()
		tt.AssertSpanExists(t, "global-span")
	})

	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestTestTelemetry_Shutdown(t *testing.T) {
	tt := NewTestTelemetry()
	_, span := tt.Tracer("test").Start(context.Background(), "s")
	span.End()

	require.NoError(t, tt.Shutdown(context.Background()))
	assert.False(t, tt.Health().Healthy)
}
