package dbtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/LerianStudio/lib-dbtest/commons/log"
	"github.com/LerianStudio/lib-dbtest/commons/migration"
	"github.com/LerianStudio/lib-dbtest/commons/observability"
	"github.com/LerianStudio/lib-dbtest/commons/postgres"
	libZap "github.com/LerianStudio/lib-dbtest/commons/zap"
)

// Manager owns the shared state of every managed test in the process: the control
// store, the backend, the connection budget and the list of preserved databases.
type Manager struct {
	config   *Config
	logger   log.Logger
	store    Store
	backend  Backend
	runner   migration.Runner
	governor *Governor
	liveness LivenessChecker
	owner    Owner
	meter    metric.Meter
	tracer   trace.Tracer
	metrics  *observability.DatabaseMetrics

	provisioner *Provisioner
	reaper      *Reaper
	admin       *postgres.Connection
	openHandle  func(ctx context.Context, name string, kind Kind, config *pgx.ConnConfig, maxConns int) (*Handle, error)

	reapOnce sync.Once
	reaped   int
	reapErr  error

	mu        sync.Mutex
	preserved []string
	closed    atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to the zap logger from commons/zap.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithStore replaces the control store. Together with WithBackend it removes the need
// for a DatabaseURL.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithBackend replaces the administrative backend.
func WithBackend(backend Backend) Option {
	return func(m *Manager) { m.backend = backend }
}

// WithRunner replaces the migration runner.
func WithRunner(runner migration.Runner) Option {
	return func(m *Manager) { m.runner = runner }
}

// WithGovernor shares a connection budget between managers.
func WithGovernor(g *Governor) Option {
	return func(m *Manager) { m.governor = g }
}

// WithLiveness replaces the owner liveness check used by the reaper.
func WithLiveness(liveness LivenessChecker) Option {
	return func(m *Manager) { m.liveness = liveness }
}

// WithOwner overrides the identity recorded for this process.
func WithOwner(owner Owner) Option {
	return func(m *Manager) { m.owner = owner }
}

// WithMeter sets the meter for lifecycle metrics. Defaults to the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) { m.meter = meter }
}

// WithTracer sets the tracer for provisioning and reaping spans. Defaults to the global
// tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// NewManager builds a Manager. A nil cfg is read with ConfigFromEnv. Unless both a store
// and a backend are supplied, the admin database at cfg.DatabaseURL is connected and the
// control table created; failure to do so returns ErrStoreUnavailable.
func NewManager(ctx context.Context, cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = ConfigFromEnv()
	}

	cfg.ApplyDefaults()

	m := &Manager{config: cfg, openHandle: openHandle}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		logger, err := libZap.InitializeLogger()
		if err != nil {
			logger = &log.NoneLogger{}
		}

		m.logger = logger
	}

	if m.store == nil || m.backend == nil {
		if err := m.connect(ctx); err != nil {
			return nil, err
		}
	}

	if err := m.initDefaults(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}

	m.logger.Debug("Test database manager ready", zap.Stringer("config", cfg), zap.Stringer("owner", m.owner))

	return m, nil
}

func (m *Manager) connect(ctx context.Context) error {
	if err := m.config.Validate(); err != nil {
		return err
	}

	admin := &postgres.Connection{
		ConnectionString:   m.config.DatabaseURL,
		MaxOpenConnections: m.config.AdminMaxConnections,
		MaxIdleConnections: m.config.AdminMaxConnections,
		ConnectRetries:     3,
		Logger:             m.logger,
	}

	db, err := admin.GetDB(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	m.admin = admin

	if m.backend == nil {
		config, err := admin.Config()
		if err != nil {
			return err
		}

		m.backend = postgres.NewBackend(db, config, m.logger)
	}

	if m.store == nil {
		store, err := NewPostgresStore(ctx, db, m.logger)
		if err != nil {
			_ = admin.Close()
			return err
		}

		m.store = store
	}

	return nil
}

func (m *Manager) initDefaults(ctx context.Context) error {
	if m.owner == (Owner{}) {
		owner, err := CurrentOwner(ctx)
		if err != nil {
			return err
		}

		m.owner = owner
	}

	if m.liveness == nil {
		m.liveness = ProcessLiveness{Host: m.owner.Host}
	}

	if m.meter == nil {
		m.meter = otel.Meter(observability.InstrumentationName)
	}

	if m.tracer == nil {
		m.tracer = otel.Tracer(observability.InstrumentationName)
	}

	metrics, err := observability.NewDatabaseMetrics(m.meter)
	if err != nil {
		m.logger.Warn("Test database metrics disabled", zap.Error(err))
	}

	m.metrics = metrics

	if m.governor == nil {
		m.governor = NewGovernor(m.config.MaxConnections)
		m.governor.metrics = metrics
	}

	if m.runner == nil {
		m.runner = migration.NewMigrateRunner(m.config.MigrationsTable, m.logger)
	}

	m.provisioner = &Provisioner{
		store:          m.store,
		backend:        m.backend,
		runner:         m.runner,
		governor:       m.governor,
		logger:         m.logger,
		metrics:        metrics,
		tracer:         m.tracer,
		cleanupTimeout: m.config.FinalizeTimeout,
	}

	m.reaper = &Reaper{
		store:    m.store,
		backend:  m.backend,
		liveness: m.liveness,
		logger:   m.logger,
		metrics:  metrics,
		tracer:   m.tracer,
		now:      time.Now,
	}

	return nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return *m.config
}

// Governor returns the connection budget shared by the manager's sessions.
func (m *Manager) Governor() *Governor {
	return m.governor
}

// Owner returns the identity recorded on the databases of this process.
func (m *Manager) Owner() Owner {
	return m.owner
}

// ReapOrphans drops databases whose owner died mid-use or mid-setup. Only the first
// call sweeps; later calls return its result.
func (m *Manager) ReapOrphans(ctx context.Context) (int, error) {
	m.reapOnce.Do(func() {
		m.reaped, m.reapErr = m.reaper.Run(ctx)
	})

	return m.reaped, m.reapErr
}

// List returns every record of the control table.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	return m.store.List(ctx)
}

// CleanupAll drops every database tracked by the control table, preserved ones included.
// It is meant for manual use between runs. Individual failures are logged, skipped and
// returned joined; the count is the number of databases removed.
func (m *Manager) CleanupAll(ctx context.Context) (int, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}

	var (
		removed int
		errs    []error
	)

	for _, r := range records {
		if err := m.backend.DropDatabase(ctx, r.Name); err != nil {
			m.logger.Warn("Failed to drop test database", zap.String("database", r.Name), zap.Error(err))
			errs = append(errs, err)

			continue
		}

		if err := m.store.Forget(ctx, r.Name); err != nil {
			m.logger.Warn("Failed to forget test database", zap.String("database", r.Name), zap.Error(err))
			errs = append(errs, err)

			continue
		}

		removed++
	}

	m.logger.Info("Cleaned up test databases", zap.Int("removed", removed), zap.Int("failed", len(errs)))

	return removed, errors.Join(errs...)
}

// Summary lists the databases preserved by failed tests of this manager, sorted.
func (m *Manager) Summary() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.preserved))
	copy(out, m.preserved)
	sort.Strings(out)

	return out
}

func (m *Manager) recordPreserved(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.preserved = append(m.preserved, name)
}

// Close releases the control store and the admin connection. Running sessions must
// have finished.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	var errs []error

	if m.store != nil {
		errs = append(errs, m.store.Close())
	}

	if m.admin != nil {
		errs = append(errs, m.admin.Close())
	}

	_ = m.logger.Sync()

	return errors.Join(errs...)
}
