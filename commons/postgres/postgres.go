// Package postgres holds the administrative connection to the target server and the
// PostgreSQL implementation of the test-database backend.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/LerianStudio/lib-dbtest/commons/log"
	"github.com/LerianStudio/lib-dbtest/commons/retry"
)

// SQLSTATE codes the backend reacts to.
const (
	codeDuplicateDatabase = "42P04"
	codeObjectInUse       = "55006"
)

var (
	// ErrDatabaseExists is returned by CreateDatabase when the name is already taken on the server.
	ErrDatabaseExists = errors.New("database already exists")

	// ErrNotConnected is returned when the admin connection is used before Connect.
	ErrNotConnected = errors.New("postgres connection not established")
)

// Connection is the administrative connection to the server that hosts the test databases.
// The credentials must be allowed to create and drop databases.
type Connection struct {
	ConnectionString   string
	MaxOpenConnections int
	MaxIdleConnections int
	ConnectRetries     int
	Logger             log.Logger

	db     *sql.DB
	config *pgx.ConnConfig
}

// Connect opens and pings the admin pool. Calling it again after success is a no-op.
func (pc *Connection) Connect(ctx context.Context) error {
	if pc.db != nil {
		return nil
	}

	logger := log.OrNone(pc.Logger)

	config, err := pgx.ParseConfig(pc.ConnectionString)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	db := stdlib.OpenDB(*config)

	err = retry.Do(ctx, func(ctx context.Context) error {
		return db.PingContext(ctx)
	},
		retry.WithMaxRetries(pc.ConnectRetries),
		retry.WithExponentialBackoff(100*time.Millisecond, 2),
		retry.WithMaxDelay(2*time.Second),
		retry.WithOnRetry(func(n int, err error) {
			logger.Warn("Admin database not reachable yet, retrying", zap.Int("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		_ = db.Close()

		logger.Error("failed to ping admin database", zap.String("dsn", RedactDSN(pc.ConnectionString)), zap.Error(err))

		return fmt.Errorf("admin database health check failed: %w", err)
	}

	if pc.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(pc.MaxOpenConnections)
	}

	if pc.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(pc.MaxIdleConnections)
	}

	db.SetConnMaxLifetime(30 * time.Minute)

	pc.db = db
	pc.config = config

	logger.Debug("Connected to admin database", zap.String("database", config.Database), zap.String("host", config.Host))

	return nil
}

// GetDB returns the admin pool, connecting first if necessary.
func (pc *Connection) GetDB(ctx context.Context) (*sql.DB, error) {
	if pc.db == nil {
		if err := pc.Connect(ctx); err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
	}

	return pc.db, nil
}

// Config returns a copy of the parsed admin connection config.
func (pc *Connection) Config() (*pgx.ConnConfig, error) {
	if pc.config == nil {
		return nil, ErrNotConnected
	}

	return pc.config.Copy(), nil
}

// Close closes the admin pool.
func (pc *Connection) Close() error {
	if pc.db == nil {
		return nil
	}

	err := pc.db.Close()
	pc.db = nil

	return err
}

// QuoteIdentifier quotes name for use as a SQL identifier.
func QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// RedactDSN hides the password of a URL-style connection string. Key/value strings
// are returned as a fixed placeholder since they cannot be redacted reliably.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "<redacted>"
	}

	return u.Redacted()
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
