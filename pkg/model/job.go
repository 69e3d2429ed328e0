package model

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of a mutation job.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobSuccess JobState = "success"
	JobFailed  JobState = "failed"
	JobDeleted JobState = "deleted"
)

func (s JobState) IsValid() bool {
	switch s {
	case JobQueued, JobRunning, JobSuccess, JobFailed, JobDeleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the job can no longer change state.
func (s JobState) IsTerminal() bool {
	return s == JobSuccess || s == JobFailed || s == JobDeleted
}

// CanTransition reports whether from -> to is a legal job move.
// Deleting is only reachable from queued; a running job must run to a
// terminal state.
func (s JobState) CanTransition(to JobState) bool {
	if s == to || s.IsTerminal() {
		return false
	}
	switch s {
	case JobQueued:
		return to == JobRunning || to == JobDeleted
	case JobRunning:
		return to == JobSuccess || to == JobFailed
	default:
		return false
	}
}

// Job is one queued or executed mutation against a collection. It is
// created by a caller and owned by the orchestrator until terminal.
type Job struct {
	ID           int64     `json:"id"`
	CollectionID int64     `json:"collection_id"`

	// TaskID identifies the pipeline run that executed this job.
	// Empty until the job leaves the queue.
	TaskID string `json:"task_id,omitempty"`

	State JobState `json:"state"`

	// StatusMessage is a human readable phase string, e.g.
	// "computing scores (3/40)". Updated while running.
	StatusMessage string `json:"status_message,omitempty"`
	Error         string `json:"error,omitempty"`

	Changes ChangeSet `json:"changes"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Seen is cleared whenever the job changes state, so the UI can
	// highlight jobs the user has not looked at yet.
	Seen bool `json:"seen"`
}

// Runtime returns how long the job has run, or ran.
func (j *Job) Runtime() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.EndedAt == nil {
		return time.Since(*j.StartedAt)
	}
	return j.EndedAt.Sub(*j.StartedAt)
}

func (j *Job) Validate() error {
	if j.CollectionID == 0 {
		return fmt.Errorf("job collection id is required")
	}
	if !j.State.IsValid() {
		return fmt.Errorf("invalid job state: %q", j.State)
	}
	if j.Changes.Empty() {
		return fmt.Errorf("job has no requested changes")
	}
	return nil
}
