package sync

import "errors"

var (
	// ErrSyncAlreadyRunning is returned when a sync of the same kind and
	// environment has not finished yet.
	ErrSyncAlreadyRunning = errors.New("a sync of this kind is already running")
	// ErrFailureCapExceeded aborts a run whose failure rate went over the
	// configured cap.
	ErrFailureCapExceeded = errors.New("failure rate cap exceeded")
	// ErrNoSourceAvailable is returned when neither live credentials nor a
	// mock payload are configured for the requested sync.
	ErrNoSourceAvailable = errors.New("no live credentials and no mock payload configured")
	// ErrNoActiveRun is returned by Cancel when no sync of the given kind
	// and environment is running.
	ErrNoActiveRun = errors.New("no active run of this kind")
)
