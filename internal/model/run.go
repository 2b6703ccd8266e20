package model

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run states. A run is running until the scheduler records the outcome.
const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// PipelineRun is one end-to-end invocation of the stage scheduler.
type PipelineRun struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ProcessingError is one per-venue failure recorded by a stage. The table is
// append-only; a failed venue stays in the run's error log even if a later
// run succeeds for it.
type ProcessingError struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Stage      string    `json:"stage"`
	VenueID    string    `json:"venue_id,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}
