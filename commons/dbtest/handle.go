package dbtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Kind selects the handle type a test receives.
type Kind int

const (
	// KindPool is a database/sql pool (DB, Resolver).
	KindPool Kind = iota
	// KindPgxPool is a native pgx pool (Pool).
	KindPgxPool
	// KindConn is a single connection checked out of a database/sql pool (Conn).
	KindConn
	// KindRaw is a single unpooled pgx connection (Raw).
	KindRaw
	// KindPoolConfig hands out configs only (PoolConfig, ConnConfig); the test builds and
	// closes its own pool.
	KindPoolConfig
)

func (k Kind) String() string {
	switch k {
	case KindPool:
		return "pool"
	case KindPgxPool:
		return "pgxpool"
	case KindConn:
		return "conn"
	case KindRaw:
		return "raw"
	case KindPoolConfig:
		return "poolconfig"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// idleTimeout evicts idle pooled connections quickly so their permits go back to the
// budget while the test is still running.
const idleTimeout = time.Second

// Handle is the live access to a test database. Only the accessors matching Kind
// return non-nil values.
type Handle struct {
	name string
	kind Kind

	db         *sql.DB
	resolver   dbresolver.DB
	pool       *pgxpool.Pool
	conn       *sql.Conn
	raw        *pgx.Conn
	poolConfig *pgxpool.Config
	connConfig *pgx.ConnConfig
}

// DatabaseName is the name of the test database.
func (h *Handle) DatabaseName() string { return h.name }

// Kind is the handle type.
func (h *Handle) Kind() Kind { return h.kind }

// DB is the database/sql pool of a KindPool or KindConn handle.
func (h *Handle) DB() *sql.DB { return h.db }

// Resolver wraps the KindPool pool for code written against dbresolver.
//
//nolint:ireturn
func (h *Handle) Resolver() dbresolver.DB { return h.resolver }

// Pool is the pgx pool of a KindPgxPool handle.
func (h *Handle) Pool() *pgxpool.Pool { return h.pool }

// Conn is the connection of a KindConn handle.
func (h *Handle) Conn() *sql.Conn { return h.conn }

// Raw is the connection of a KindRaw handle.
func (h *Handle) Raw() *pgx.Conn { return h.raw }

// PoolConfig returns a copy of the pool config of a KindPoolConfig handle. Pools built
// from it dial through the connection budget and must be closed by the test.
func (h *Handle) PoolConfig() *pgxpool.Config {
	if h.poolConfig == nil {
		return nil
	}

	return h.poolConfig.Copy()
}

// ConnConfig returns a copy of the connection config of a KindPoolConfig handle.
func (h *Handle) ConnConfig() *pgx.ConnConfig {
	if h.connConfig == nil {
		return nil
	}

	return h.connConfig.Copy()
}

// openHandle connects to the database described by config, whose dialer must already
// be governed.
func openHandle(ctx context.Context, name string, kind Kind, config *pgx.ConnConfig, maxConns int) (*Handle, error) {
	h := &Handle{name: name, kind: kind}

	switch kind {
	case KindPool, KindConn:
		db := openSQLDB(config)
		if kind == KindPool {
			db.SetMaxOpenConns(maxConns)
		} else {
			db.SetMaxOpenConns(1)
		}

		h.db = db

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
		}

		if kind == KindConn {
			conn, err := db.Conn(ctx)
			if err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to check out connection to %s: %w", name, err)
			}

			h.conn = conn
		} else {
			h.resolver = dbresolver.New(
				dbresolver.WithPrimaryDBs(db),
				dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
			)
		}
	case KindPgxPool:
		poolConfig, err := newPoolConfig(config, maxConns)
		if err != nil {
			return nil, err
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool for %s: %w", name, err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
		}

		h.pool = pool
	case KindRaw:
		conn, err := pgx.ConnectConfig(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
		}

		h.raw = conn
	case KindPoolConfig:
		poolConfig, err := newPoolConfig(config, maxConns)
		if err != nil {
			return nil, err
		}

		h.poolConfig = poolConfig
		h.connConfig = config
	default:
		return nil, fmt.Errorf("unsupported handle kind %s", kind)
	}

	return h, nil
}

// close releases every connection the handle opened. Pools built by the test from a
// KindPoolConfig handle are not tracked here; the drop terminates their sessions.
func (h *Handle) close(ctx context.Context) error {
	var errs []error

	if h.conn != nil {
		errs = append(errs, h.conn.Close())
	}

	if h.db != nil {
		errs = append(errs, h.db.Close())
	}

	if h.pool != nil {
		h.pool.Close()
	}

	if h.raw != nil {
		errs = append(errs, h.raw.Close(ctx))
	}

	return errors.Join(errs...)
}

func openSQLDB(config *pgx.ConnConfig) *sql.DB {
	db := stdlib.OpenDB(*config)
	db.SetConnMaxIdleTime(idleTimeout)

	return db
}

func newPoolConfig(config *pgx.ConnConfig, maxConns int) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to build pool config: %w", err)
	}

	poolConfig.ConnConfig = config.Copy()
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = 0
	poolConfig.MaxConnIdleTime = idleTimeout
	poolConfig.HealthCheckPeriod = idleTimeout

	return poolConfig, nil
}
