package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the status of a build run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusSkipped marks runs stopped by a CI directive.
	RunStatusSkipped RunStatus = "skipped"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	return s != RunStatusRunning
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one invocation of `pkgmatrix run` for a page of the matrix.
type Run struct {
	ID          string     `json:"id"`
	Reference   string     `json:"reference"`
	Branch      string     `json:"branch,omitempty"`
	Runner      string     `json:"runner"`
	Page        int        `json:"page"`
	TotalPages  int        `json:"total_pages"`
	Status      RunStatus  `json:"status"`
	JobCount    int        `json:"job_count"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewRun returns a running Run with a fresh ID.
func NewRun(reference, runner string, page, totalPages int) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:         uuid.NewString(),
		Reference:  reference,
		Runner:     runner,
		Page:       page,
		TotalPages: totalPages,
		Status:     RunStatusRunning,
		StartedAt:  now,
		Metadata:   "{}",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// JobRecord is the stored outcome of one job of a run.
type JobRecord struct {
	ID            int64         `json:"-"`
	RunID         string        `json:"run_id"`
	JobID         string        `json:"job_id"`
	Reference     string        `json:"reference"`
	Configuration string        `json:"configuration"` // JSON object of the flat configuration
	PackageID     string        `json:"package_id,omitempty"`
	Built         bool          `json:"built"`
	Uploaded      bool          `json:"uploaded"`
	Status        string        `json:"status"`
	Error         *string       `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	JobID     *string    `json:"job_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the build history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, jobCount int, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Job operations
	RecordJobs(ctx context.Context, jobs []*JobRecord) error
	ListJobsByRun(ctx context.Context, runID string) ([]*JobRecord, error)
	JobHistory(ctx context.Context, jobID string, limit int) ([]*JobRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
