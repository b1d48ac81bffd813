package job

import (
	"context"
	"time"

	"enricher/internal/core/scan"
)

// Type classifies the unit of crawl work.
type Type string

const (
	TypeBulkExtract   Type = "bulk-extract"
	TypeStructureScan Type = "structure-scan"
)

// Status is the job lifecycle state. Transitions are monotonic along
// pending -> running -> {waiting_commit -> completed} | failed | stopped.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusWaitingCommit Status = "waiting_commit"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusStopped       Status = "stopped"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

var transitions = map[Status][]Status{
	StatusPending:       {StatusRunning, StatusFailed, StatusStopped},
	// Scan jobs have no commit phase and complete straight from running.
	StatusRunning:       {StatusWaitingCommit, StatusCompleted, StatusFailed, StatusStopped},
	StatusWaitingCommit: {StatusCompleted, StatusFailed, StatusStopped},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Counters track job progress. Invariant: Processed == Succeeded + Failed.
type Counters struct {
	Queued    int `json:"queued"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Params are the submission inputs for a job.
type Params struct {
	ProfileID string `json:"profile_id"`
	// URLs is the direct target list for bulk-extract jobs.
	URLs []string `json:"urls,omitempty"`
	// ScanRoot, when set, plans bulk targets via a structure scan first.
	ScanRoot string `json:"scan_root,omitempty"`
	// Deep enables recursive discovery for structure-scan jobs.
	Deep bool `json:"deep,omitempty"`
}

// Summary is the aggregate result recorded on terminal jobs.
type Summary struct {
	Staged       int      `json:"staged,omitempty"`
	Promoted     int      `json:"promoted,omitempty"`
	Duplicates   int      `json:"duplicates,omitempty"`
	Errors       int      `json:"errors,omitempty"`
	SampleErrors []string `json:"sample_errors,omitempty"`
	Cause        string   `json:"cause,omitempty"`
	// Tree holds the navigation tree for structure-scan jobs.
	Tree *scan.Node `json:"tree,omitempty"`
}

// Job is one scheduled unit of crawl/extraction work.
type Job struct {
	ID            string     `json:"id"`
	Type          Type       `json:"type"`
	Status        Status     `json:"status"`
	ProfileID     string     `json:"profile_id"`
	Params        Params     `json:"params"`
	Counters      Counters   `json:"counters"`
	Summary       *Summary   `json:"summary,omitempty"`
	ErrorText     string     `json:"error_text,omitempty"`
	StopRequested bool       `json:"stop_requested,omitempty"`
	PurgeOnStop   bool       `json:"purge_on_stop,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Store is the durable job table. Counter updates must be atomic so that
// concurrent worker reports never lose increments.
type Store interface {
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	// UpdateStatus moves the job to next and records errText on failure states.
	UpdateStatus(ctx context.Context, id string, next Status, errText string) error
	// AddQueued atomically raises the queued counter by n.
	AddQueued(ctx context.Context, id string, n int) error
	// ApplyItemResult atomically increments processed and one of
	// succeeded/failed, returning the updated counters. With overwrite the
	// outcome swaps between succeeded and failed without touching processed,
	// so re-reporting a target never double counts it.
	ApplyItemResult(ctx context.Context, id string, ok, overwrite bool) (Counters, error)
	// SetStopRequested flags the job for cooperative stop.
	SetStopRequested(ctx context.Context, id string, purge bool) error
	// SetSummary records the terminal result summary.
	SetSummary(ctx context.Context, id string, s Summary) error
	// ListActive returns all non-terminal jobs, newest first.
	ListActive(ctx context.Context) ([]Job, error)
	// Delete removes the job row. Owned staging rows are purged separately.
	Delete(ctx context.Context, id string) error
}
