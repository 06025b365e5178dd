package health

import "time"

// Operation identifies the lock operation an Event reports.
type Operation string

const (
	OpAcquire        Operation = "acquire"
	OpAcquireFailed  Operation = "acquire_failed"
	OpRelease        Operation = "release"
	OpReleaseFailed  Operation = "release_failed"
	OpCleanupRelease Operation = "cleanup_release"
)

// Event is a single lock operation observation. Duration carries the
// acquisition time for acquire events and the held duration for release
// events; Attempts is only meaningful for acquisitions.
type Event struct {
	Operation Operation
	Duration  time.Duration
	Attempts  int
	Err       error
}

// Tracker ingests lock operation events. The manager and the cleanup
// service report through this interface so tests can substitute a stub.
type Tracker interface {
	Track(resource string, ev Event)
}

// ErrorRecord is one entry of a resource's sliding error window.
type ErrorRecord struct {
	At        time.Time
	Operation Operation
	Message   string
}

// Metric is a read-only snapshot of one resource's counters.
type Metric struct {
	Acquisitions       uint64
	Releases           uint64
	FailedAcquisitions uint64
	FailedReleases     uint64
	CleanupReleases    uint64
	TotalHeld          time.Duration
	LastOperation      Operation
	LastSeen           time.Time
	RecentErrors       []ErrorRecord
}
