package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/hrmflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(context.Background(), config.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	restoreGlobals(t)

	cfg := config.DefaultTelemetryConfig()
	cfg.Enabled = true
	cfg.SampleRate = 1.0

	p, err := Init(context.Background(), cfg, zaptest.NewLogger(t),
		WithServiceVersion("v1.2.3"),
		WithAttributes(attribute.String("deployment.environment", "test")))
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)

	// 没有 collector 时导出可能失败，只要求不 panic
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}

func TestBuildVersion(t *testing.T) {
	assert.Equal(t, "dev", buildVersion())
}

func TestTransportCredentials(t *testing.T) {
	cfg := config.DefaultTelemetryConfig()
	creds, err := transportCredentials(cfg)
	require.NoError(t, err)
	assert.Nil(t, creds)

	cfg.Insecure = false
	creds, err = transportCredentials(cfg)
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "tls", creds.Info().SecurityProtocol)
}

func TestInit_BadCAFile(t *testing.T) {
	restoreGlobals(t)

	cfg := config.DefaultTelemetryConfig()
	cfg.Enabled = true
	cfg.Insecure = false
	cfg.CAFile = filepath.Join(t.TempDir(), "missing.pem")

	_, err := Init(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "telemetry tls")
}
