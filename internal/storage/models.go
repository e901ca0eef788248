package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RequestRecord is one row of the request log: the terminal state of a
// logical generation request.
type RequestRecord struct {
	ID           string
	CreatedAt    time.Time
	Capability   string
	Outcome      string
	Candidate    string
	TriedJSON    string // JSON array of model identifiers
	AttemptsJSON string // JSON array of attempt entries
	RetryAfter   int
	LastError    string
	DurationMS   int64
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
	ResultJSON  string
}
