package dbtest

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/lib-dbtest/commons/log"
)

var recordColumns = []string{
	"db_name", "test_path", "fingerprint", "created_at", "owner_host", "owner_pid", "owner_started_at",
	"session_id", "in_use", "setup_complete", "preserved",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return &PostgresStore{db: db, logger: &log.NoneLogger{}}, mock
}

func expectSchema(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(schemaLockQuery).WithArgs(schemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createTableQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createIndexQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
}

func TestNewPostgresStore(t *testing.T) {
	t.Run("Should create the control table", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()

		expectSchema(mock)

		store, err := NewPostgresStore(context.Background(), db, nil)
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.NoError(t, store.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report an unreachable server as unavailable", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()

		for i := 0; i < 4; i++ {
			mock.ExpectBegin().WillReturnError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))
		}

		_, err = NewPostgresStore(context.Background(), db, nil)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should not retry server side errors", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(schemaLockQuery).WithArgs(schemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(createTableQuery).WillReturnError(&pgconn.PgError{Code: "42501", Message: "permission denied for schema public"})
		mock.ExpectRollback()

		_, err = NewPostgresStore(context.Background(), db, nil)
		assert.ErrorContains(t, err, "permission denied")
		assert.NotErrorIs(t, err, ErrStoreUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Reserve(t *testing.T) {
	req := ReserveRequest{
		Name:        "db_pkg_testa_0123456789abcdef",
		TestPath:    "pkg::TestA",
		Fingerprint: "fp",
		Owner:       testOwner,
		SessionID:   "session-1",
	}
	args := []driver.Value{req.Name, req.TestPath, req.Fingerprint, testOwner.Host, testOwner.PID, testOwner.StartedAt, req.SessionID}

	tests := []struct {
		name     string
		setup    func(mock sqlmock.Sqlmock)
		wantKind ReservationKind
		wantErr  error
	}{
		{
			name: "Should insert a fresh record",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(reserveQuery).WithArgs(args...).
					WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
			},
			wantKind: ReservationFresh,
		},
		{
			name: "Should claim an idle finished record",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(reserveQuery).WithArgs(args...).
					WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))
			},
			wantKind: ReservationReuse,
		},
		{
			name: "Should report a held name as taken",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(reserveQuery).WithArgs(args...).
					WillReturnRows(sqlmock.NewRows([]string{"inserted"}))
			},
			wantErr: ErrNameTaken,
		},
		{
			name: "Should report a broken connection as unavailable",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(reserveQuery).WithArgs(args...).
					WillReturnError(errors.New("unexpected EOF"))
			},
			wantErr: ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			res, err := store.Reserve(context.Background(), req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantKind, res.Kind)
				assert.Equal(t, req.Name, res.Name)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	const name = "db_x"

	t.Run("Should mark a record ready", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(markReadyQuery).WithArgs(name).WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.MarkReady(context.Background(), name))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should fail to mark a missing record ready", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(markReadyQuery).WithArgs(name).WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorContains(t, store.MarkReady(context.Background(), name), "no such test database record")
	})

	t.Run("Should delete the record on success", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(deleteQuery).WithArgs(name).WillReturnResult(sqlmock.NewResult(0, 1))

		drop, err := store.Release(context.Background(), name, Success)
		require.NoError(t, err)
		assert.True(t, drop)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should preserve the record on failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(preserveQuery).WithArgs(name).WillReturnResult(sqlmock.NewResult(0, 1))

		drop, err := store.Release(context.Background(), name, Failure)
		require.NoError(t, err)
		assert.False(t, drop)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should recycle the record", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(recycleQuery).WithArgs(name).WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Recycle(context.Background(), name))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should forget the record", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(deleteQuery).WithArgs(name).WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, store.Forget(context.Background(), name))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_ListOrphans(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	created := now.Add(-time.Hour)

	mock.ExpectQuery(listCreatedQuery).WithArgs(now).WillReturnRows(sqlmock.NewRows(recordColumns).
		AddRow("db_live", "pkg::TestLive", "fp", created, "h", int64(1), int64(10), "s1", true, true, false).
		AddRow("db_dead", "pkg::TestDead", "fp", created, "h", int64(2), int64(20), "s2", true, false, false))

	orphans, err := store.ListOrphans(context.Background(), now, LivenessFunc(func(_ context.Context, o Owner) bool {
		return o.PID == 1
	}))
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	assert.Equal(t, Record{
		Name:        "db_dead",
		TestPath:    "pkg::TestDead",
		Fingerprint: "fp",
		CreatedAt:   created,
		Owner:       Owner{Host: "h", PID: 2, StartedAt: 20},
		SessionID:   "s2",
		InUse:       true,
	}, orphans[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(listQuery).WillReturnRows(sqlmock.NewRows(recordColumns).
		AddRow("db_a", "pkg::TestA", "fp", time.Now(), "h", int64(1), int64(10), "s1", false, true, true))

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Preserved)
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{name: "Should mark connection errors unavailable", err: errors.New("connection refused"), unavailable: true},
		{name: "Should not mark server errors unavailable", err: &pgconn.PgError{Code: "23505"}, unavailable: false},
		{name: "Should not mark cancellation unavailable", err: context.Canceled, unavailable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storeError("op", tt.err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrStoreUnavailable))
		})
	}
}
