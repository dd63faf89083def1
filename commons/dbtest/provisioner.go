package dbtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/LerianStudio/lib-dbtest/commons/log"
	"github.com/LerianStudio/lib-dbtest/commons/migration"
	"github.com/LerianStudio/lib-dbtest/commons/observability"
	"github.com/LerianStudio/lib-dbtest/commons/postgres"
)

//go:generate mockgen --destination=dbtest_mock.go --package=dbtest . Backend,LivenessChecker

// Backend is the administrative access to the server hosting the test databases.
// commons/postgres.Backend implements it.
type Backend interface {
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	ConnConfig(name string) *pgx.ConnConfig
	TruncateAll(ctx context.Context, db *sql.DB, keep ...string) error
}

// Provisioner turns reservations into ready databases.
type Provisioner struct {
	store    Store
	backend  Backend
	runner   migration.Runner
	governor *Governor
	logger   log.Logger
	metrics  *observability.DatabaseMetrics
	tracer   trace.Tracer

	// cleanupTimeout bounds the drop of a partial database once setup failed.
	cleanupTimeout time.Duration
}

// Provision makes the reserved database usable. A fresh reservation is created,
// migrated, seeded with fixtures and marked ready; a reused one is trusted as is.
//
// On failure the partial database is dropped and its record forgotten before
// ErrProvisioningFailed is returned.
func (p *Provisioner) Provision(ctx context.Context, res Reservation, set *migration.Set) error {
	attrs := []attribute.KeyValue{
		attribute.String(observability.KeyDatabaseName, res.Name),
		attribute.String(observability.KeyReservation, res.Kind.String()),
	}

	if res.Kind == ReservationReuse {
		p.metrics.RecordReused(ctx)
		p.logger.Debug("Reusing test database", zap.String("database", res.Name))

		return nil
	}

	start := time.Now()

	err := observability.WithSpan(ctx, p.tracer, "dbtest.provision", func(ctx context.Context) error {
		return p.create(ctx, res.Name, set)
	}, trace.WithAttributes(attrs...))
	if err != nil {
		p.metrics.RecordProvisioningFailure(ctx)
		p.discard(ctx, res.Name)

		return fmt.Errorf("%w: %s: %w", ErrProvisioningFailed, res.Name, err)
	}

	p.metrics.RecordProvisioned(ctx, time.Since(start))
	p.logger.Debug("Provisioned test database",
		zap.String("database", res.Name),
		zap.Int("migrations", set.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return nil
}

func (p *Provisioner) create(ctx context.Context, name string, set *migration.Set) error {
	err := p.backend.CreateDatabase(ctx, name)
	if errors.Is(err, postgres.ErrDatabaseExists) {
		// The reservation owns the name, so a database without a live record is debris.
		p.logger.Warn("Replacing untracked database", zap.String("database", name))

		if err = p.backend.DropDatabase(ctx, name); err == nil {
			err = p.backend.CreateDatabase(ctx, name)
		}
	}

	if err != nil {
		return err
	}

	if set.Len() > 0 || len(set.Fixtures()) > 0 {
		db := openSQLDB(p.connConfig(name))
		defer db.Close()

		if err := p.runner.Apply(ctx, db, name, set); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}

	return p.store.MarkReady(ctx, name)
}

// discard drops a partially provisioned database. A drop that fails leaves the record
// in_use and not ready, which the reaper collects once this process is gone.
func (p *Provisioner) discard(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cleanupTimeout)
	defer cancel()

	if err := p.backend.DropDatabase(ctx, name); err != nil {
		p.logger.Error("Failed to drop partially provisioned database", zap.String("database", name), zap.Error(err))
		return
	}

	if err := p.store.Forget(ctx, name); err != nil {
		p.logger.Error("Failed to forget partially provisioned database", zap.String("database", name), zap.Error(err))
	}
}

// connConfig returns the config of name with its dialer bound to the connection budget.
func (p *Provisioner) connConfig(name string) *pgx.ConnConfig {
	config := p.backend.ConnConfig(name)
	config.DialFunc = p.governor.DialFunc(config.DialFunc)

	return config
}
