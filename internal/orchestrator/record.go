package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/santaline/internal/storage"
)

// RequestStore persists request log entries.
type RequestStore interface {
	SaveRequest(r storage.RequestRecord) error
}

// StoreRecorder writes terminal results to the request log.
type StoreRecorder struct {
	store RequestStore
	now   func() time.Time
}

func NewStoreRecorder(store RequestStore) *StoreRecorder {
	return &StoreRecorder{store: store, now: time.Now}
}

type attemptEntry struct {
	Candidate  string `json:"candidate"`
	Shape      string `json:"shape"`
	Outcome    string `json:"outcome"`
	Status     int    `json:"status,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Empty      bool   `json:"empty,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

func (r *StoreRecorder) Record(_ context.Context, res *Result) error {
	rec, err := NewRequestRecord(res, r.now())
	if err != nil {
		return err
	}
	if err := r.store.SaveRequest(rec); err != nil {
		return fmt.Errorf("saving request: %w", err)
	}
	return nil
}

// NewRequestRecord flattens a result into a request log row.
func NewRequestRecord(res *Result, at time.Time) (storage.RequestRecord, error) {
	tried := make([]string, len(res.Tried))
	for i, c := range res.Tried {
		tried[i] = string(c)
	}
	triedJSON, err := json.Marshal(tried)
	if err != nil {
		return storage.RequestRecord{}, fmt.Errorf("marshaling tried models: %w", err)
	}

	attempts := make([]attemptEntry, len(res.Attempts))
	for i, a := range res.Attempts {
		attempts[i] = attemptEntry{
			Candidate:  string(a.Candidate),
			Shape:      string(a.Shape),
			Outcome:    a.Outcome.String(),
			Status:     a.Status,
			RetryAfter: a.RetryAfter,
			Empty:      a.Empty,
			Error:      a.Err,
			DurationMS: a.Duration.Milliseconds(),
		}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return storage.RequestRecord{}, fmt.Errorf("marshaling attempts: %w", err)
	}

	var lastErr string
	if res.Terminal != TerminalSuccess && res.LastErr != nil {
		lastErr = res.LastErr.Error()
	}

	return storage.RequestRecord{
		ID:           uuid.New().String(),
		CreatedAt:    at,
		Capability:   res.Capability.String(),
		Outcome:      res.Terminal.String(),
		Candidate:    string(res.Candidate),
		TriedJSON:    string(triedJSON),
		AttemptsJSON: string(attemptsJSON),
		RetryAfter:   res.RetryAfter,
		LastError:    lastErr,
		DurationMS:   res.Duration.Milliseconds(),
	}, nil
}
