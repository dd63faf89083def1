package dbtest

import (
	"context"
	"time"
)

// Outcome is the result of a managed test body.
type Outcome int

const (
	// Success means the body completed without panicking and without reporting failure.
	Success Outcome = iota
	// Failure covers panics, runtime.Goexit, returned errors and failed tests.
	Failure
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}

	return "failure"
}

// ReservationKind tells whether a reservation needs provisioning.
type ReservationKind int

const (
	// ReservationFresh is a new record; the database must be created and migrated.
	ReservationFresh ReservationKind = iota
	// ReservationReuse claimed a finished, idle database with a matching fingerprint.
	ReservationReuse
)

func (k ReservationKind) String() string {
	if k == ReservationReuse {
		return "reuse"
	}

	return "fresh"
}

// ReserveRequest describes the database a session wants to hold.
type ReserveRequest struct {
	Name        string
	TestPath    string
	Fingerprint string
	Owner       Owner
	SessionID   string
}

// Reservation is the exclusive claim on a database name returned by Store.Reserve.
type Reservation struct {
	Name        string
	Kind        ReservationKind
	TestPath    string
	Fingerprint string
}

// Record is one row of the control table.
type Record struct {
	Name          string
	TestPath      string
	Fingerprint   string
	CreatedAt     time.Time
	Owner         Owner
	SessionID     string
	InUse         bool
	SetupComplete bool
	Preserved     bool
}

// Orphaned reports whether the record was mid-use or mid-setup and not deliberately
// preserved. Only such records may be reaped once their owner is dead.
func (r Record) Orphaned() bool {
	return (r.InUse || !r.SetupComplete) && !r.Preserved
}

// Store is the shared bookkeeping of test databases. Implementations must make Reserve
// atomic across processes.
type Store interface {
	// Reserve inserts a fresh record, or claims an idle finished record with the same
	// fingerprint. Returns ErrNameTaken when the name exists and cannot be claimed.
	Reserve(ctx context.Context, req ReserveRequest) (Reservation, error)

	// MarkReady flags the database as fully migrated.
	MarkReady(ctx context.Context, name string) error

	// Release ends a session. Success deletes the record and returns true: the physical
	// database must not survive. Failure keeps the record, marked preserved.
	Release(ctx context.Context, name string, outcome Outcome) (bool, error)

	// Recycle clears in_use so the database can be claimed again by Reserve.
	Recycle(ctx context.Context, name string) error

	// Forget deletes the record of a database the caller already dropped.
	Forget(ctx context.Context, name string) error

	// ListOrphans returns the records created at or before now whose owner is not alive.
	ListOrphans(ctx context.Context, now time.Time, liveness LivenessChecker) ([]Record, error)

	// List returns every record.
	List(ctx context.Context) ([]Record, error)

	Close() error
}
