package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr string
	}{
		{
			name: "Should stay disabled without a collector endpoint",
			opts: []Option{WithServiceName("orders.test")},
		},
		{
			name:    "Should reject an empty service name",
			opts:    []Option{WithServiceName("")},
			wantErr: "service name cannot be empty",
		},
		{
			name: "Should accept the full set of options",
			opts: []Option{
				WithServiceName("orders.test"),
				WithServiceVersion("1.2.3"),
				WithEnvironment("ci"),
				WithInsecure(true),
				WithComponentEnabled(true, false, false),
			},
		},
		{
			name:    "Should reject an empty service version",
			opts:    []Option{WithServiceVersion("")},
			wantErr: "service version cannot be empty",
		},
		{
			name:    "Should reject an empty environment",
			opts:    []Option{WithEnvironment("")},
			wantErr: "environment cannot be empty",
		},
		{
			name:    "Should reject an out of range sample rate",
			opts:    []Option{WithTraceSampleRate(1.5)},
			wantErr: "trace sample rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(context.Background(), tt.opts...)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.False(t, p.IsEnabled())
			assert.NotNil(t, p.Tracer())
			assert.NotNil(t, p.Meter())
			assert.NoError(t, p.Shutdown(context.Background()))
		})
	}
}

func TestWithSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	require.NoError(t, WithSpan(context.Background(), tracer, "ok", func(context.Context) error { return nil }))

	boom := errors.New("boom")
	err := WithSpan(context.Background(), tracer, "failing", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "failing", spans[1].Name())
}

func TestDatabaseMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	dm, err := NewDatabaseMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	dm.RecordProvisioned(ctx, 20*time.Millisecond)
	dm.RecordProvisioned(ctx, 30*time.Millisecond)
	dm.RecordReused(ctx)
	dm.RecordFinalized(ctx, false, time.Second)
	dm.RecordFinalized(ctx, true, time.Second)
	dm.RecordReaped(ctx, 3)
	dm.RecordConnectionAcquired(ctx, time.Millisecond)
	dm.RecordConnectionAcquired(ctx, time.Millisecond)
	dm.RecordConnectionReleased(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}

	assert.Equal(t, int64(2), sums["dbtest.databases.created"])
	assert.Equal(t, int64(1), sums["dbtest.databases.reused"])
	assert.Equal(t, int64(1), sums["dbtest.databases.dropped"])
	assert.Equal(t, int64(1), sums["dbtest.databases.preserved"])
	assert.Equal(t, int64(3), sums["dbtest.databases.reaped"])
	assert.Equal(t, int64(1), sums["dbtest.connections.in_use"])
}

func TestDatabaseMetrics_NilIsNoop(t *testing.T) {
	var dm *DatabaseMetrics

	assert.NotPanics(t, func() {
		ctx := context.Background()
		dm.RecordProvisioned(ctx, time.Millisecond)
		dm.RecordReused(ctx)
		dm.RecordProvisioningFailure(ctx)
		dm.RecordFinalized(ctx, true, time.Millisecond)
		dm.RecordReaped(ctx, 1)
		dm.RecordConnectionAcquired(ctx, 0)
		dm.RecordConnectionReleased(ctx)
	})
}
