package dbtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/LerianStudio/lib-dbtest/commons/log"
	"github.com/LerianStudio/lib-dbtest/commons/retry"
)

// ControlTable is the table, in the admin database, recording every test database.
const ControlTable = "_dbtest_databases"

// schemaLockKey serializes schema creation between processes starting together.
const schemaLockKey int64 = 0x64627465737400

const (
	schemaLockQuery = `SELECT pg_advisory_xact_lock($1)`

	createTableQuery = `CREATE TABLE IF NOT EXISTS _dbtest_databases (
	db_name          text PRIMARY KEY,
	test_path        text NOT NULL,
	fingerprint      text NOT NULL,
	created_at       timestamptz NOT NULL DEFAULT now(),
	owner_host       text NOT NULL,
	owner_pid        bigint NOT NULL,
	owner_started_at bigint NOT NULL,
	session_id       text NOT NULL,
	in_use           boolean NOT NULL DEFAULT true,
	setup_complete   boolean NOT NULL DEFAULT false,
	preserved        boolean NOT NULL DEFAULT false
)`

	createIndexQuery = `CREATE INDEX IF NOT EXISTS _dbtest_databases_created_at_idx ON _dbtest_databases (created_at)`

	reserveQuery = `INSERT INTO _dbtest_databases
	(db_name, test_path, fingerprint, owner_host, owner_pid, owner_started_at, session_id, in_use, setup_complete, preserved)
VALUES ($1, $2, $3, $4, $5, $6, $7, true, false, false)
ON CONFLICT (db_name) DO UPDATE SET
	in_use = true,
	owner_host = EXCLUDED.owner_host,
	owner_pid = EXCLUDED.owner_pid,
	owner_started_at = EXCLUDED.owner_started_at,
	session_id = EXCLUDED.session_id
WHERE _dbtest_databases.setup_complete
	AND NOT _dbtest_databases.in_use
	AND NOT _dbtest_databases.preserved
	AND _dbtest_databases.fingerprint = EXCLUDED.fingerprint
RETURNING (xmax = 0) AS inserted`

	markReadyQuery = `UPDATE _dbtest_databases SET setup_complete = true WHERE db_name = $1`
	preserveQuery  = `UPDATE _dbtest_databases SET in_use = false, preserved = true WHERE db_name = $1`
	recycleQuery   = `UPDATE _dbtest_databases SET in_use = false WHERE db_name = $1 AND NOT preserved`
	deleteQuery    = `DELETE FROM _dbtest_databases WHERE db_name = $1`

	selectColumns = `SELECT db_name, test_path, fingerprint, created_at, owner_host, owner_pid, owner_started_at,
	session_id, in_use, setup_complete, preserved FROM _dbtest_databases`

	listQuery        = selectColumns + ` ORDER BY created_at, db_name`
	listCreatedQuery = selectColumns + ` WHERE created_at <= $1 ORDER BY created_at, db_name`
)

// PostgresStore keeps the control table in the admin database. The caller owns db.
type PostgresStore struct {
	db     *sql.DB
	logger log.Logger
}

// NewPostgresStore creates the control table if needed and returns the store.
// Connection failures are retried briefly and reported as ErrStoreUnavailable.
func NewPostgresStore(ctx context.Context, db *sql.DB, logger log.Logger) (*PostgresStore, error) {
	s := &PostgresStore{db: db, logger: log.OrNone(logger)}

	err := retry.Do(ctx, s.ensureSchema,
		retry.WithMaxRetries(3),
		retry.WithExponentialBackoff(100*time.Millisecond, 2),
		retry.WithJitter(0.2),
		retry.WithRetryIf(func(err error) bool {
			return errors.Is(err, ErrStoreUnavailable)
		}),
	)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin schema transaction", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaLockQuery, schemaLockKey); err != nil {
		return storeError("lock control schema", err)
	}

	for _, q := range []string{createTableQuery, createIndexQuery} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return storeError("create control schema", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit control schema", err)
	}

	return nil
}

// Reserve implements Store.
func (s *PostgresStore) Reserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	var inserted bool

	err := s.db.QueryRowContext(ctx, reserveQuery,
		req.Name, req.TestPath, req.Fingerprint,
		req.Owner.Host, req.Owner.PID, req.Owner.StartedAt,
		req.SessionID,
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, fmt.Errorf("%w: %s", ErrNameTaken, req.Name)
	}

	if err != nil {
		return Reservation{}, storeError("reserve "+req.Name, err)
	}

	kind := ReservationReuse
	if inserted {
		kind = ReservationFresh
	}

	s.logger.Debug("Reserved test database",
		zap.String("database", req.Name),
		zap.Stringer("reservation", kind),
		zap.String("session", req.SessionID),
	)

	return Reservation{
		Name:        req.Name,
		Kind:        kind,
		TestPath:    req.TestPath,
		Fingerprint: req.Fingerprint,
	}, nil
}

// MarkReady implements Store.
func (s *PostgresStore) MarkReady(ctx context.Context, name string) error {
	return s.updateOne(ctx, "mark ready", markReadyQuery, name)
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, name string, outcome Outcome) (bool, error) {
	if outcome == Success {
		if _, err := s.db.ExecContext(ctx, deleteQuery, name); err != nil {
			return false, storeError("release "+name, err)
		}

		return true, nil
	}

	if err := s.updateOne(ctx, "preserve", preserveQuery, name); err != nil {
		return false, err
	}

	return false, nil
}

// Recycle implements Store.
func (s *PostgresStore) Recycle(ctx context.Context, name string) error {
	return s.updateOne(ctx, "recycle", recycleQuery, name)
}

// Forget implements Store.
func (s *PostgresStore) Forget(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, deleteQuery, name); err != nil {
		return storeError("forget "+name, err)
	}

	return nil
}

// ListOrphans implements Store.
func (s *PostgresStore) ListOrphans(ctx context.Context, now time.Time, liveness LivenessChecker) ([]Record, error) {
	records, err := s.query(ctx, listCreatedQuery, now)
	if err != nil {
		return nil, err
	}

	orphans := records[:0]

	for _, r := range records {
		if !liveness.IsAlive(ctx, r.Owner) {
			orphans = append(orphans, r)
		}
	}

	return orphans, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	return s.query(ctx, listQuery)
}

// Close implements Store. The admin pool is owned by the caller and stays open.
func (s *PostgresStore) Close() error {
	return nil
}

func (s *PostgresStore) updateOne(ctx context.Context, op, query, name string) error {
	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return storeError(op+" "+name, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return storeError(op+" "+name, err)
	}

	if n == 0 {
		return fmt.Errorf("%s %s: no such test database record", op, name)
	}

	return nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list test databases", err)
	}
	defer rows.Close()

	var records []Record

	for rows.Next() {
		var r Record

		err := rows.Scan(&r.Name, &r.TestPath, &r.Fingerprint, &r.CreatedAt,
			&r.Owner.Host, &r.Owner.PID, &r.Owner.StartedAt,
			&r.SessionID, &r.InUse, &r.SetupComplete, &r.Preserved)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test database record: %w", err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("list test databases", err)
	}

	return records, nil
}

// storeError wraps err with op. Failures that are not answers from the server (dial
// errors, broken connections) are additionally marked ErrStoreUnavailable.
func storeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
