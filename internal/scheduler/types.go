package scheduler

import (
	"context"
	"time"
)

// Job is a maintenance task run on a cron schedule (seconds field included).
type Job struct {
	ID       string
	Name     string
	Schedule string
	Run      func(ctx context.Context) (string, error)
}

// JobResult captures the outcome of one run.
type JobResult struct {
	JobID     string
	StartTime time.Time
	EndTime   time.Time
	Success   bool
	Summary   string
	Error     error
}

// Values of JobHistory.LastStatus.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusTimeout = "timeout"
)

// JobHistory tracks historical execution data for a job.
type JobHistory struct {
	JobID        string    `json:"job_id"`
	LastRun      time.Time `json:"last_run"`
	LastStatus   string    `json:"last_status"`
	LastSummary  string    `json:"last_summary,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastDuration int64     `json:"last_duration_ms"`
	RunCount     int       `json:"run_count"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}
