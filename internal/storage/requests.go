package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const requestColumns = `id, created_at, capability, outcome, candidate, tried_json, attempts_json, retry_after, last_error, duration_ms`

func (s *Store) SaveRequest(r RequestRecord) error {
	tried := r.TriedJSON
	if tried == "" {
		tried = "[]"
	}
	attempts := r.AttemptsJSON
	if attempts == "" {
		attempts = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO request_log (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UTC().Format(time.RFC3339), r.Capability, r.Outcome, r.Candidate,
		tried, attempts, r.RetryAfter, r.LastError, r.DurationMS,
	)
	return err
}

func (s *Store) GetRequest(id string) (RequestRecord, error) {
	row := s.db.QueryRow(`SELECT `+requestColumns+` FROM request_log WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return RequestRecord{}, ErrNotFound
	}
	return r, err
}

// ListRequests returns the most recent requests first. An empty capability
// matches every capability.
func (s *Store) ListRequests(capability string, limit, offset int) ([]RequestRecord, error) {
	query := `SELECT ` + requestColumns + ` FROM request_log`
	var args []any
	if capability != "" {
		query += ` WHERE capability = ?`
		args = append(args, capability)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RequestRecord
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) DeleteRequest(id string) error {
	res, err := s.db.Exec(`DELETE FROM request_log WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestStats counts logged requests by outcome.
func (s *Store) RequestStats() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM request_log GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		stats[outcome] = n
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (RequestRecord, error) {
	var r RequestRecord
	var createdAt string
	err := row.Scan(&r.ID, &createdAt, &r.Capability, &r.Outcome, &r.Candidate,
		&r.TriedJSON, &r.AttemptsJSON, &r.RetryAfter, &r.LastError, &r.DurationMS)
	if err != nil {
		return RequestRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return RequestRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}
