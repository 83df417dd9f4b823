package models

import "time"

// JobStatus follows a strict state machine:
//
//	queued ──start──▶ running ──all processed──▶ done
//	                     └────fatal error──────▶ error
//
// No transition leaves a terminal state.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Terminal reports whether s is a terminal job status.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// Job drives the enrichment of every IOC belonging to one Upload and records
// progress for external observers. Invariants: processed ≤ total at all
// times, and successful + failed = processed once status is done.
type Job struct {
	ID             int64      `json:"id"`
	UploadID       int64      `json:"uploadId"`
	Status         JobStatus  `json:"status"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	TotalIOCs      int        `json:"totalIocs"`
	ProcessedIOCs  int        `json:"processedIocs"`
	SuccessfulIOCs int        `json:"successfulIocs"`
	FailedIOCs     int        `json:"failedIocs"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
