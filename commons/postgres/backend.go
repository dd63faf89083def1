package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/LerianStudio/lib-dbtest/commons/log"
	"github.com/LerianStudio/lib-dbtest/commons/retry"
)

const (
	terminateBackendsQuery = `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`
	databaseExistsQuery    = `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`
	listTablesQuery        = `SELECT schemaname, tablename FROM pg_tables WHERE schemaname NOT IN ('pg_catalog', 'information_schema') ORDER BY schemaname, tablename`
)

// Backend creates, drops and resets test databases on the server reached through admin.
type Backend struct {
	admin  *sql.DB
	config *pgx.ConnConfig
	logger log.Logger

	// DropRetries bounds how many times a drop is retried while other sessions still
	// hold the database open.
	DropRetries int
	DropDelay   time.Duration
}

// NewBackend returns a Backend issuing DDL through admin. config is the admin connection
// config; per-database configs are derived from it.
func NewBackend(admin *sql.DB, config *pgx.ConnConfig, logger log.Logger) *Backend {
	return &Backend{
		admin:       admin,
		config:      config,
		logger:      log.OrNone(logger),
		DropRetries: 5,
		DropDelay:   50 * time.Millisecond,
	}
}

// CreateDatabase creates an empty database called name.
func (b *Backend) CreateDatabase(ctx context.Context, name string) error {
	if _, err := b.admin.ExecContext(ctx, "CREATE DATABASE "+QuoteIdentifier(name)); err != nil {
		if hasCode(err, codeDuplicateDatabase) {
			return fmt.Errorf("%w: %s", ErrDatabaseExists, name)
		}

		return fmt.Errorf("failed to create database %s: %w", name, err)
	}

	b.logger.Debug("Created database", zap.String("database", name))

	return nil
}

// DropDatabase terminates every session connected to name and drops it. Dropping a
// database that does not exist succeeds.
func (b *Backend) DropDatabase(ctx context.Context, name string) error {
	drop := func(ctx context.Context) error {
		if _, err := b.admin.ExecContext(ctx, terminateBackendsQuery, name); err != nil {
			return retry.MarkPermanent(fmt.Errorf("failed to terminate sessions on %s: %w", name, err))
		}

		_, err := b.admin.ExecContext(ctx, "DROP DATABASE IF EXISTS "+QuoteIdentifier(name))
		if err == nil {
			return nil
		}

		if hasCode(err, codeObjectInUse) {
			return err
		}

		return retry.MarkPermanent(err)
	}

	err := retry.Do(ctx, drop,
		retry.WithMaxRetries(b.DropRetries),
		retry.WithExponentialBackoff(b.DropDelay, 2),
		retry.WithMaxDelay(time.Second),
		retry.WithOnRetry(func(n int, err error) {
			b.logger.Debug("Database still in use, retrying drop", zap.String("database", name), zap.Int("attempt", n))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to drop database %s: %w", name, err)
	}

	b.logger.Debug("Dropped database", zap.String("database", name))

	return nil
}

// DatabaseExists reports whether name exists on the server.
func (b *Backend) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := b.admin.QueryRowContext(ctx, databaseExistsQuery, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to look up database %s: %w", name, err)
	}

	return exists, nil
}

// ConnConfig returns a connection config for the database called name.
func (b *Backend) ConnConfig(name string) *pgx.ConnConfig {
	c := b.config.Copy()
	c.Database = name

	return c
}

// TruncateAll empties every user table of db except the ones listed in keep, restarting
// identity sequences. Used to recycle a database between tests.
func (b *Backend) TruncateAll(ctx context.Context, db *sql.DB, keep ...string) error {
	skip := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		skip[k] = struct{}{}
	}

	rows, err := db.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			return fmt.Errorf("failed to scan table name: %w", err)
		}

		if _, ok := skip[table]; ok {
			continue
		}

		tables = append(tables, pgx.Identifier{schema, table}.Sanitize())
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	if len(tables) == 0 {
		return nil
	}

	query := "TRUNCATE TABLE " + strings.Join(tables, ", ") + " RESTART IDENTITY CASCADE"

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}

	return nil
}
