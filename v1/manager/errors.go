package manager

import "errors"

var (
	// ErrAcquisitionFailed is returned when a lock could not be acquired
	// within the configured number of retries. The caller decides whether
	// to retry, queue or abort.
	ErrAcquisitionFailed = errors.New("warden: lock acquisition failed")

	// ErrReleaseFailed is returned when the store rejected or could not
	// complete a release.
	ErrReleaseFailed = errors.New("warden: lock release failed")

	// ErrExtendFailed is returned when the store could not extend a lock.
	ErrExtendFailed = errors.New("warden: lock extension failed")

	// ErrNotHeld is returned when an operation requires a lock this manager
	// does not hold.
	ErrNotHeld = errors.New("warden: lock not held")

	// ErrEmptyResource is returned when the resource name is empty.
	ErrEmptyResource = errors.New("warden: resource must not be empty")

	// ErrNoLocker is returned by Initialize when neither a locker nor redis
	// clients were configured.
	ErrNoLocker = errors.New("warden: no locker or redis clients configured")
)
