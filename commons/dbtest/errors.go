package dbtest

import "errors"

// Errors returned by the orchestrator. Setup errors wrap one of these with %w so callers
// can tell infrastructure problems apart from test-body failures.
var (
	// ErrStoreUnavailable indicates the administrative database could not be reached.
	ErrStoreUnavailable = errors.New("control store unavailable")

	// ErrProvisioningFailed indicates a test database could not be created or migrated.
	// The partial database has already been dropped when this is returned.
	ErrProvisioningFailed = errors.New("test database provisioning failed")

	// ErrNameTaken is returned by Store.Reserve when the name exists and cannot be claimed.
	ErrNameTaken = errors.New("test database name already taken")

	// ErrNoFreeName is returned when every sequence number of a test identity is taken.
	ErrNoFreeName = errors.New("no free test database name")

	// ErrManagerClosed is returned when a closed Manager is asked to run a test.
	ErrManagerClosed = errors.New("test database manager is closed")

	// ErrInvalidConfig indicates a Config failed validation.
	ErrInvalidConfig = errors.New("invalid dbtest configuration")
)
