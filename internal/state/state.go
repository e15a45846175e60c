// Package state records which logs have been sessionized so that
// long-running watchers do not process a log twice across restarts.
package state

import "time"

// Status is the outcome recorded for a log.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry records the last run over one input log.
type Entry struct {
	Input       string    `json:"input"`
	Output      string    `json:"output"`
	Status      Status    `json:"status"`
	Sessions    int       `json:"sessions"`
	ProcessedAt time.Time `json:"processed_at"`
	Error       string    `json:"error,omitempty"`
}

// Backend persists entries.
type Backend interface {
	// Load reads all entries.
	Load() ([]Entry, error)

	// Record inserts or replaces the entry for e.Input.
	Record(e Entry) error
}
