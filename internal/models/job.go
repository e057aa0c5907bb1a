// Package models defines the data structures shared by the ingestion and query pipelines.
package models

import "time"

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// rank orders statuses so transitions can only move forward.
func (s JobStatus) rank() int {
	switch s {
	case JobPending:
		return 0
	case JobRunning:
		return 1
	case JobCompleted, JobFailed:
		return 2
	}
	return -1
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether moving from s to next is a forward step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	return next.rank() > s.rank() && s.rank() >= 0
}

// IngestRequest asks for the latest filings of each ticker.
type IngestRequest struct {
	Tickers     []string `json:"tickers"`
	FilingTypes []string `json:"filing_types"`
	Limit       int      `json:"limit"`
}

// TickerResult is the outcome of one ticker sub-run.
type TickerResult struct {
	Ticker string `json:"ticker"`
	Status string `json:"status"` // "done" or "error"
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
}

// IngestionJob is a point-in-time view of a job.
type IngestionJob struct {
	ID          string           `json:"id"`
	Tickers     []string         `json:"tickers"`
	FilingTypes []string         `json:"filing_types"`
	Limit       int              `json:"limit"`
	Status      JobStatus        `json:"status"`
	TotalChunks int              `json:"total_chunks"`
	Results     []TickerResult   `json:"results,omitempty"`
	Steps       map[string]Stage `json:"current_steps,omitempty"` // ticker -> stage in progress
	Error       string           `json:"error,omitempty"`
	Events      int              `json:"events"`
	Dropped     int              `json:"dropped_events"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}
