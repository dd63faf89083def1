package dbtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LerianStudio/lib-dbtest/commons/log"
	"github.com/LerianStudio/lib-dbtest/commons/migration"
	"github.com/LerianStudio/lib-dbtest/commons/retry"
)

// preserveRetries bounds the retries of the preserve write once a test failed.
const preserveRetries = 3

// State is the lifecycle position of one managed test.
type State int

const (
	StateStart State = iota
	StateReserving
	StateProvisioning
	StateReady
	StateRunning
	StateFinalizing
	StateCleaned
	StatePreserved
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateReserving:
		return "reserving"
	case StateProvisioning:
		return "provisioning"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateCleaned:
		return "cleaned"
	case StatePreserved:
		return "preserved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TestSpec identifies a managed test.
type TestSpec struct {
	// Path is the qualified test name; together with the migrations it names the database.
	Path string

	// Migrations applied to a fresh database. Nil means migration.Empty().
	Migrations *migration.Set

	// Kind of handle passed to the body.
	Kind Kind
}

// Body is the test code run against the handle. A returned error makes the outcome Failure.
type Body func(ctx context.Context, h *Handle) error

// Result describes a finished managed test.
type Result struct {
	DatabaseName string
	Outcome      Outcome
	State        State

	// Preserved is set when the database was kept for inspection. It stays false when
	// the store could not record the failure; the database is then left on the server
	// but a later sweep may drop it.
	Preserved bool

	// Reused is set when the database came from an earlier run instead of being created.
	Reused bool

	// BodyErr is the error returned by the body, if any.
	BodyErr error
}

type session struct {
	m       *Manager
	id      string
	spec    TestSpec
	set     *migration.Set
	res     Reservation
	handle  *Handle
	state   State
	started time.Time
	logger  log.Logger
}

func (s *session) transition(to State) {
	s.logger.Debug("Test database session transition",
		zap.Stringer("from", s.state),
		zap.Stringer("to", to),
		zap.String("database", s.res.Name),
	)
	s.state = to
}

// RunManagedTest runs body against an exclusively owned, fully migrated database.
//
// The returned error only reports setup problems (ErrStoreUnavailable,
// ErrProvisioningFailed, ErrNoFreeName); they leave no database behind. Body failures are
// reported through Result: a returned error, a panic or runtime.Goexit (t.FailNow) all
// make the outcome Failure and preserve the database. Finalization runs even when ctx is
// cancelled, bounded by Config.FinalizeTimeout. A panic from body is re-raised once the
// database has been finalized.
func (m *Manager) RunManagedTest(ctx context.Context, spec TestSpec, body Body) (result Result, err error) {
	if m.closed.Load() {
		return Result{}, ErrManagerClosed
	}

	// The first managed test of the process sweeps orphans, with or without Main.
	if _, err := m.ReapOrphans(ctx); err != nil {
		m.logger.Warn("Orphan sweep failed, continuing", zap.Error(err))
	}

	s, err := m.begin(ctx, spec)
	if err != nil {
		return Result{}, err
	}

	outcome := Failure

	var bodyErr error

	defer func() {
		p := recover()
		if p != nil {
			outcome = Failure
			s.logger.Error("Test body panicked", zap.String("database", s.res.Name), zap.Any("panic", p))
		}

		result = s.finalize(ctx, outcome, bodyErr)

		if p != nil {
			panic(p)
		}
	}()

	s.transition(StateRunning)

	// A body that never returns here ended in a panic or runtime.Goexit.
	bodyCtx := ContextWithSession(ctx, SessionInfo{
		ID:           s.id,
		TestPath:     spec.Path,
		DatabaseName: s.res.Name,
		Logger:       s.logger.WithFields("database", s.res.Name),
		Tracer:       m.tracer,
	})

	bodyErr = body(bodyCtx, s.handle)
	if bodyErr == nil {
		outcome = Success
	}

	return result, nil
}

// begin takes a session from Start to Ready.
func (m *Manager) begin(ctx context.Context, spec TestSpec) (*session, error) {
	set := spec.Migrations
	if set == nil {
		set = migration.Empty()
	}

	id := uuid.NewString()
	s := &session{
		m:       m,
		id:      id,
		spec:    spec,
		set:     set,
		started: time.Now(),
		logger:  m.logger.WithFields("test", spec.Path, "session", id),
	}

	s.transition(StateReserving)

	res, err := m.reserve(ctx, spec.Path, set.Fingerprint(), id)
	if err != nil {
		return nil, err
	}

	s.res = res

	if res.Kind == ReservationFresh {
		s.transition(StateProvisioning)
	}

	if err := m.provisioner.Provision(ctx, res, set); err != nil {
		return nil, err
	}

	h, err := m.openHandle(ctx, res.Name, spec.Kind, m.provisioner.connConfig(res.Name), m.config.PoolMaxConnections)
	if err != nil {
		m.provisioner.discard(ctx, res.Name)
		return nil, fmt.Errorf("%w: %s: %w", ErrProvisioningFailed, res.Name, err)
	}

	s.handle = h
	s.transition(StateReady)

	return s, nil
}

// reserve walks the sequence numbers of the test identity until one can be claimed.
// Names held by running tests or preserved failures are skipped.
func (m *Manager) reserve(ctx context.Context, testPath, fingerprint, sessionID string) (Reservation, error) {
	for seq := 0; seq <= m.config.MaxSequence; seq++ {
		res, err := m.store.Reserve(ctx, ReserveRequest{
			Name:        DatabaseName(testPath, fingerprint, seq),
			TestPath:    testPath,
			Fingerprint: fingerprint,
			Owner:       m.owner,
			SessionID:   sessionID,
		})
		if errors.Is(err, ErrNameTaken) {
			continue
		}

		if err != nil {
			return Reservation{}, err
		}

		return res, nil
	}

	return Reservation{}, fmt.Errorf("%w for %s after %d attempts", ErrNoFreeName, testPath, m.config.MaxSequence+1)
}

// finalize closes the handle then drops, recycles or preserves the database. It runs
// detached from ctx cancellation.
func (s *session) finalize(ctx context.Context, outcome Outcome, bodyErr error) Result {
	m := s.m
	name := s.res.Name

	s.transition(StateFinalizing)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.FinalizeTimeout)
	defer cancel()

	if err := s.handle.close(ctx); err != nil {
		s.logger.Warn("Failed to close test database handle", zap.String("database", name), zap.Error(err))
	}

	result := Result{
		DatabaseName: name,
		Outcome:      outcome,
		Reused:       s.res.Kind == ReservationReuse,
		BodyErr:      bodyErr,
	}

	if outcome == Failure {
		if err := s.preserve(ctx); err != nil {
			s.logger.Error("Failed to mark test database preserved, it may be reaped by a later run",
				zap.String("database", name), zap.Error(err))
		} else {
			m.recordPreserved(name)
			s.transition(StatePreserved)
			s.logger.Warn("Test failed, database preserved for inspection", zap.String("database", name))

			result.Preserved = true
		}
	} else {
		s.cleanup(ctx)
	}

	result.State = s.state
	m.metrics.RecordFinalized(ctx, result.Preserved, time.Since(s.started))

	return result
}

// preserve records the failure so no cleanup path drops the database. Only an
// unreachable store is retried.
func (s *session) preserve(ctx context.Context) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.m.store.Release(ctx, s.res.Name, Failure)
		return err
	},
		retry.WithMaxRetries(preserveRetries),
		retry.WithExponentialBackoff(50*time.Millisecond, 2),
		retry.WithRetryIf(func(err error) bool { return errors.Is(err, ErrStoreUnavailable) }),
		retry.WithOnRetry(func(n int, err error) {
			s.logger.Warn("Retrying preserve of test database",
				zap.String("database", s.res.Name), zap.Int("attempt", n), zap.Error(err))
		}),
	)
}

// cleanup disposes of a database after a successful test. A failed drop leaves the
// record in_use for the reaper.
func (s *session) cleanup(ctx context.Context) {
	m := s.m
	name := s.res.Name

	if m.config.Reuse {
		err := s.recycle(ctx)
		if err == nil {
			s.transition(StateCleaned)
			return
		}

		s.logger.Warn("Failed to recycle test database, dropping it", zap.String("database", name), zap.Error(err))
	}

	if err := m.backend.DropDatabase(ctx, name); err != nil {
		s.logger.Error("Failed to drop test database", zap.String("database", name), zap.Error(err))
		return
	}

	if _, err := m.store.Release(ctx, name, Success); err != nil {
		s.logger.Error("Failed to delete test database record", zap.String("database", name), zap.Error(err))
		return
	}

	s.transition(StateCleaned)
}

func (s *session) recycle(ctx context.Context) error {
	m := s.m

	db := openSQLDB(m.provisioner.connConfig(s.res.Name))
	defer db.Close()

	if err := m.backend.TruncateAll(ctx, db, m.config.MigrationsTable); err != nil {
		return err
	}

	return m.store.Recycle(ctx, s.res.Name)
}
