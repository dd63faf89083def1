package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"go.uber.org/zap"

	"github.com/LerianStudio/lib-dbtest/commons/log"
)

// DefaultMigrationsTable is the bookkeeping table golang-migrate keeps in every test database.
const DefaultMigrationsTable = "schema_migrations"

// Runner applies a Set to a freshly created, empty database.
type Runner interface {
	Apply(ctx context.Context, db *sql.DB, databaseName string, set *Set) error
}

// MigrateRunner applies migrations with golang-migrate, then executes fixtures in order.
type MigrateRunner struct {
	MigrationsTable string
	Logger          log.Logger
}

// NewMigrateRunner returns a runner recording versions in table (DefaultMigrationsTable when empty).
func NewMigrateRunner(table string, logger log.Logger) *MigrateRunner {
	if table == "" {
		table = DefaultMigrationsTable
	}

	return &MigrateRunner{MigrationsTable: table, Logger: log.OrNone(logger)}
}

// Apply implements Runner. It does not close db.
func (r *MigrateRunner) Apply(ctx context.Context, db *sql.DB, databaseName string, set *Set) error {
	logger := log.OrNone(r.Logger)

	if set.Len() > 0 {
		if err := r.up(ctx, db, databaseName, set, logger); err != nil {
			return err
		}
	}

	for _, f := range set.fixtures {
		if _, err := db.ExecContext(ctx, f.Script); err != nil {
			return fmt.Errorf("failed to apply fixture %q: %w", f.Name, err)
		}
	}

	logger.Debug("Test database schema ready",
		zap.String("db_name", databaseName),
		zap.Int("migrations", set.Len()),
		zap.Int("fixtures", len(set.fixtures)),
	)

	return nil
}

func (r *MigrateRunner) up(ctx context.Context, db *sql.DB, databaseName string, set *Set, logger log.Logger) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire migration connection: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{
		DatabaseName:    databaseName,
		MigrationsTable: r.MigrationsTable,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("dbtest", newSetSource(set), databaseName, driver)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("Failed to close migration instance", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	m.Log = migrateLogger{logger: logger}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("migrations interrupted: %w", ctxErr)
		}

		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("migrations interrupted: %w", ctxErr)
	}

	return nil
}

// migrateLogger adapts log.Logger to migrate.Logger.
type migrateLogger struct {
	logger log.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}
