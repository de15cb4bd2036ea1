package types

import (
	"fmt"
	"time"
)

// SyncState is a step of the sync state machine
type SyncState int

const (
	StateIdle SyncState = iota
	StateScanning
	StateDetecting
	StateFetching
	StateIngesting
	StateMerging
	StateDone
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateScanning:  "scanning",
	StateDetecting: "detecting",
	StateFetching:  "fetching",
	StateIngesting: "ingesting",
	StateMerging:   "merging",
	StateDone:      "done",
	StateFailed:    "failed",
	StateCancelled: "cancelled",
}

func (s SyncState) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal reports whether no further transition is possible
func (s SyncState) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// MarshalText renders the state name in JSON reports
func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SyncStep names the pipeline step an error originated from
type SyncStep string

const (
	StepScan   SyncStep = "scan"
	StepDetect SyncStep = "detect"
	StepFetch  SyncStep = "fetch"
	StepBuild  SyncStep = "build"
	StepIngest SyncStep = "ingest"
	StepDelete SyncStep = "delete"
	StepMerge  SyncStep = "merge"
)

// FailedPath records a per-item failure. Failed paths are excluded from the
// catalog merge and are picked up again by the next sync.
type FailedPath struct {
	Path string
	Step SyncStep
	Err  error
}

// Reason returns the underlying cause as text
func (f FailedPath) Reason() string {
	if f.Err == nil {
		return "unknown error"
	}
	return f.Err.Error()
}

func (f FailedPath) String() string {
	return fmt.Sprintf("%s [%s]: %s", f.Path, f.Step, f.Reason())
}

// SyncReport is the outcome of one Sync call
type SyncReport struct {
	RepositoryID string
	Branch       string
	Status       SyncState
	States       []SyncState // transitions in order, starting at Idle
	NoChanges    bool

	// classification
	New       int
	Modified  int
	Deleted   int
	Unchanged int

	// work performed
	Fetched        int
	Ingested       int
	ChunksWritten  int
	DeletedRecords int
	Succeeded      int
	Failed         int
	FailedPaths    []FailedPath

	StartedAt  time.Time
	FinishedAt time.Time
	Elapsed    time.Duration

	// Err is the fatal cause when Status is StateFailed, or the context
	// error when Status is StateCancelled
	Err error
}

// HasFailures reports whether any path failed during the sync
func (r *SyncReport) HasFailures() bool {
	return len(r.FailedPaths) > 0
}

// Summary renders a one-line human readable description
func (r *SyncReport) Summary() string {
	if r.NoChanges {
		return fmt.Sprintf("%s@%s: no changes (%d unchanged)", r.RepositoryID, r.Branch, r.Unchanged)
	}
	s := fmt.Sprintf("%s@%s: %s new=%d modified=%d deleted=%d unchanged=%d succeeded=%d failed=%d in %s",
		r.RepositoryID, r.Branch, r.Status, r.New, r.Modified, r.Deleted, r.Unchanged,
		r.Succeeded, r.Failed, r.Elapsed.Round(time.Millisecond))
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}

// Progress is reported while a sync is running
type Progress struct {
	RepositoryID string
	Branch       string
	Phase        SyncState
	Total        int
	Processed    int
	Elapsed      time.Duration
}
