package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys attached to test-database metrics and spans.
const (
	KeyDatabaseName = "dbtest.database"
	KeyTestPath     = "dbtest.test"
	KeyOutcome      = "dbtest.outcome"
	KeyReservation  = "dbtest.reservation"
)

// DatabaseMetrics records the lifecycle of test databases and the connection budget.
// A nil *DatabaseMetrics is valid and records nothing.
type DatabaseMetrics struct {
	meter metric.Meter

	// Lifecycle metrics
	createdCounter   metric.Int64Counter
	reusedCounter    metric.Int64Counter
	droppedCounter   metric.Int64Counter
	preservedCounter metric.Int64Counter
	reapedCounter    metric.Int64Counter
	failureCounter   metric.Int64Counter

	provisionDuration metric.Float64Histogram
	sessionDuration   metric.Float64Histogram

	// Connection budget metrics
	connectionsInUse metric.Int64UpDownCounter
	connectionWait   metric.Float64Histogram
}

// NewDatabaseMetrics creates the instruments on meter.
func NewDatabaseMetrics(meter metric.Meter) (*DatabaseMetrics, error) {
	dm := &DatabaseMetrics{meter: meter}

	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&dm.createdCounter, "dbtest.databases.created", "Test databases created and migrated"},
		{&dm.reusedCounter, "dbtest.databases.reused", "Test databases claimed for reuse"},
		{&dm.droppedCounter, "dbtest.databases.dropped", "Test databases dropped after a successful test"},
		{&dm.preservedCounter, "dbtest.databases.preserved", "Test databases preserved after a failed test"},
		{&dm.reapedCounter, "dbtest.databases.reaped", "Orphaned test databases dropped by the reaper"},
		{&dm.failureCounter, "dbtest.provisioning.failures", "Test databases that failed to provision"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}

		*c.target = counter
	}

	provisionDuration, err := meter.Float64Histogram(
		"dbtest.provisioning.duration",
		metric.WithDescription("Time to create and migrate a test database"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provisioning duration histogram: %w", err)
	}
	dm.provisionDuration = provisionDuration

	sessionDuration, err := meter.Float64Histogram(
		"dbtest.session.duration",
		metric.WithDescription("Time from reservation to finalization of a managed test"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session duration histogram: %w", err)
	}
	dm.sessionDuration = sessionDuration

	connectionsInUse, err := meter.Int64UpDownCounter(
		"dbtest.connections.in_use",
		metric.WithDescription("Connections currently open to test databases"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connections in use counter: %w", err)
	}
	dm.connectionsInUse = connectionsInUse

	connectionWait, err := meter.Float64Histogram(
		"dbtest.connections.wait",
		metric.WithDescription("Time spent waiting for a connection permit"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection wait histogram: %w", err)
	}
	dm.connectionWait = connectionWait

	return dm, nil
}

// RecordProvisioned records a database that was created and migrated.
func (dm *DatabaseMetrics) RecordProvisioned(ctx context.Context, duration time.Duration, attrs ...attribute.KeyValue) {
	if dm == nil {
		return
	}

	dm.createdCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	dm.provisionDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordReused records a database claimed from an earlier run.
func (dm *DatabaseMetrics) RecordReused(ctx context.Context, attrs ...attribute.KeyValue) {
	if dm == nil {
		return
	}

	dm.reusedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProvisioningFailure records a database that could not be created or migrated.
func (dm *DatabaseMetrics) RecordProvisioningFailure(ctx context.Context, attrs ...attribute.KeyValue) {
	if dm == nil {
		return
	}

	dm.failureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFinalized records the end of a managed test: the session duration plus a drop or
// a preservation depending on preserved.
func (dm *DatabaseMetrics) RecordFinalized(ctx context.Context, preserved bool, duration time.Duration, attrs ...attribute.KeyValue) {
	if dm == nil {
		return
	}

	dm.sessionDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if preserved {
		dm.preservedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}

	dm.droppedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReaped records n orphaned databases dropped by the reaper.
func (dm *DatabaseMetrics) RecordReaped(ctx context.Context, n int) {
	if dm == nil || n == 0 {
		return
	}

	dm.reapedCounter.Add(ctx, int64(n))
}

// RecordConnectionAcquired records a connection permit granted after waiting for wait.
func (dm *DatabaseMetrics) RecordConnectionAcquired(ctx context.Context, wait time.Duration) {
	if dm == nil {
		return
	}

	dm.connectionsInUse.Add(ctx, 1)
	dm.connectionWait.Record(ctx, float64(wait.Milliseconds()))
}

// RecordConnectionReleased records a connection permit returned to the budget.
func (dm *DatabaseMetrics) RecordConnectionReleased(ctx context.Context) {
	if dm == nil {
		return
	}

	dm.connectionsInUse.Add(ctx, -1)
}
