package dbtest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/LerianStudio/lib-dbtest/commons/log"
	"github.com/LerianStudio/lib-dbtest/commons/observability"
)

// Reaper drops databases left behind by test processes that died mid-use or mid-setup.
// Databases preserved by failed tests are never touched.
type Reaper struct {
	store    Store
	backend  Backend
	liveness LivenessChecker
	logger   log.Logger
	metrics  *observability.DatabaseMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// Run performs one sweep and returns how many databases were dropped. Failures on
// individual databases are logged and skipped; only a failure to list the control
// table is returned.
func (r *Reaper) Run(ctx context.Context) (int, error) {
	var reaped int

	err := observability.WithSpan(ctx, r.tracer, "dbtest.reap", func(ctx context.Context) error {
		orphans, err := r.store.ListOrphans(ctx, r.now(), r.liveness)
		if err != nil {
			return err
		}

		for _, rec := range orphans {
			if !rec.Orphaned() {
				continue
			}

			if r.drop(ctx, rec) {
				reaped++
			}
		}

		return nil
	})
	if err != nil {
		r.logger.Error("Failed to list orphaned test databases", zap.Error(err))
		return 0, err
	}

	r.metrics.RecordReaped(ctx, reaped)

	if reaped > 0 {
		r.logger.Info("Reaped orphaned test databases", zap.Int("count", reaped))
	}

	return reaped, nil
}

func (r *Reaper) drop(ctx context.Context, rec Record) bool {
	if err := r.backend.DropDatabase(ctx, rec.Name); err != nil {
		r.logger.Warn("Failed to drop orphaned test database", zap.String("database", rec.Name), zap.Error(err))
		return false
	}

	if err := r.store.Forget(ctx, rec.Name); err != nil {
		r.logger.Warn("Failed to forget orphaned test database", zap.String("database", rec.Name), zap.Error(err))
		return false
	}

	r.logger.Debug("Reaped orphaned test database",
		zap.String("database", rec.Name),
		zap.String("test", rec.TestPath),
		zap.Stringer("owner", rec.Owner),
		zap.Bool("setup_complete", rec.SetupComplete),
	)

	return true
}
