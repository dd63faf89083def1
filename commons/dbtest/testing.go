package dbtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/LerianStudio/lib-dbtest/commons/migration"
	"github.com/LerianStudio/lib-dbtest/commons/observability"
)

var errTestFailed = errors.New("test failed")

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Default returns the process-wide Manager, creating it from the environment on first
// use. A failed creation is not cached, so every test reports it.
func Default(ctx context.Context) (*Manager, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager != nil {
		return defaultManager, nil
	}

	m, err := NewManager(ctx, nil)
	if err != nil {
		return nil, err
	}

	defaultManager = m

	return m, nil
}

// SetDefault installs m as the process-wide Manager, typically from TestMain before
// calling Run.
func SetDefault(m *Manager) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	defaultManager = m
}

// Main is Run followed by os.Exit; use it as the whole body of TestMain.
func Main(m *testing.M) {
	os.Exit(Run(m))
}

// Run reaps orphaned databases, runs the tests, then prints the databases preserved by
// failed tests. It returns the exit code of m.Run.
func Run(m *testing.M) int {
	ctx := context.Background()

	cfg := ConfigFromEnv()

	telemetry, err := observability.New(ctx, telemetryOptions(cfg)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbtest: telemetry disabled: %v\n", err)
	}

	mgr, err := Default(ctx)
	if err != nil {
		// Tests asking for a database will fail with this error themselves.
		fmt.Fprintf(os.Stderr, "dbtest: %v\n", err)
		return m.Run()
	}

	if _, err := mgr.ReapOrphans(ctx); err != nil {
		mgr.logger.Warn("Orphan sweep failed, continuing", zap.Error(err))
	}

	code := m.Run()

	PrintSummary(os.Stderr, mgr.Summary())

	if err := mgr.Close(); err != nil {
		mgr.logger.Warn("Failed to close test database manager", zap.Error(err))
	}

	if telemetry != nil {
		_ = telemetry.Shutdown(ctx)
	}

	return code
}

// telemetryOptions maps cfg onto the telemetry provider. Empty values keep the
// provider defaults.
func telemetryOptions(cfg *Config) []observability.Option {
	opts := []observability.Option{
		observability.WithServiceName(binaryName()),
		observability.WithCollectorEndpoint(cfg.CollectorEndpoint),
		observability.WithInsecure(cfg.CollectorInsecure),
		observability.WithComponentEnabled(!cfg.DisableTraces, !cfg.DisableMetrics, !cfg.DisableLogs),
	}

	if cfg.Environment != "" {
		opts = append(opts, observability.WithEnvironment(cfg.Environment))
	}

	if cfg.ServiceVersion != "" {
		opts = append(opts, observability.WithServiceVersion(cfg.ServiceVersion))
	}

	return opts
}

// PrintSummary writes the preserved database names, if any, to w.
func PrintSummary(w io.Writer, preserved []string) {
	if len(preserved) == 0 {
		return
	}

	fmt.Fprintf(w, "\ndbtest: %d database(s) preserved by failed tests:\n", len(preserved))

	for _, name := range preserved {
		fmt.Fprintf(w, "  %s\n", name)
	}

	fmt.Fprintln(w, "dbtest: remove them with `dbtest cleanup` once inspected")
}

// TestOption configures Test.
type TestOption func(*testOptions)

type testOptions struct {
	manager    *Manager
	migrations *migration.Set
	kind       Kind
}

// WithMigrations sets the migrations applied to the test database.
func WithMigrations(set *migration.Set) TestOption {
	return func(o *testOptions) { o.migrations = set }
}

// WithKind sets the handle kind. Defaults to KindPool.
func WithKind(kind Kind) TestOption {
	return func(o *testOptions) { o.kind = kind }
}

// WithManager runs the test on m instead of the default Manager.
func WithManager(m *Manager) TestOption {
	return func(o *testOptions) { o.manager = m }
}

// Test runs body against a fresh test database. The database is dropped when the test
// passes and preserved, with its name logged, when it fails or panics. Setup problems
// fail the test with t.Fatalf.
func Test(t *testing.T, body func(t *testing.T, h *Handle), opts ...TestOption) {
	t.Helper()

	o := testOptions{kind: KindPool}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()

	mgr := o.manager
	if mgr == nil {
		var err error
		if mgr, err = Default(ctx); err != nil {
			t.Fatalf("dbtest: %v", err)
		}
	}

	spec := TestSpec{Path: testPath(t), Migrations: o.migrations, Kind: o.kind}

	result, err := mgr.RunManagedTest(ctx, spec, func(_ context.Context, h *Handle) error {
		body(t, h)

		if t.Failed() {
			return errTestFailed
		}

		return nil
	})
	if err != nil {
		t.Fatalf("dbtest: setup failed: %v", err)
	}

	if result.Preserved {
		t.Logf("dbtest: database %s preserved for inspection", result.DatabaseName)
	}
}

// TestPool runs body with a database/sql pool.
func TestPool(t *testing.T, set *migration.Set, body func(t *testing.T, db *sql.DB), opts ...TestOption) {
	t.Helper()
	Test(t, func(t *testing.T, h *Handle) { body(t, h.DB()) }, append(opts, WithMigrations(set), WithKind(KindPool))...)
}

// TestPgxPool runs body with a pgx pool.
func TestPgxPool(t *testing.T, set *migration.Set, body func(t *testing.T, pool *pgxpool.Pool), opts ...TestOption) {
	t.Helper()
	Test(t, func(t *testing.T, h *Handle) { body(t, h.Pool()) }, append(opts, WithMigrations(set), WithKind(KindPgxPool))...)
}

// TestConn runs body with a single database/sql connection.
func TestConn(t *testing.T, set *migration.Set, body func(t *testing.T, conn *sql.Conn), opts ...TestOption) {
	t.Helper()
	Test(t, func(t *testing.T, h *Handle) { body(t, h.Conn()) }, append(opts, WithMigrations(set), WithKind(KindConn))...)
}

// TestRaw runs body with an unpooled pgx connection.
func TestRaw(t *testing.T, set *migration.Set, body func(t *testing.T, conn *pgx.Conn), opts ...TestOption) {
	t.Helper()
	Test(t, func(t *testing.T, h *Handle) { body(t, h.Raw()) }, append(opts, WithMigrations(set), WithKind(KindRaw))...)
}

// TestPoolConfig runs body with a pool config and a connection config for the test
// database. Pools the body builds must be closed by the body.
func TestPoolConfig(t *testing.T, set *migration.Set, body func(t *testing.T, pool *pgxpool.Config, conn *pgx.ConnConfig), opts ...TestOption) {
	t.Helper()
	Test(t, func(t *testing.T, h *Handle) { body(t, h.PoolConfig(), h.ConnConfig()) }, append(opts, WithMigrations(set), WithKind(KindPoolConfig))...)
}

// testPath qualifies the test name with the package of the running test binary.
func testPath(t *testing.T) string {
	return binaryName() + "::" + t.Name()
}

func binaryName() string {
	return strings.TrimSuffix(filepath.Base(os.Args[0]), ".test")
}
