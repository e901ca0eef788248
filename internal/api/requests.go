package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/santaline/internal/storage"
)

type requestView struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"createdAt"`
	Capability string          `json:"capability"`
	Outcome    string          `json:"outcome"`
	Model      string          `json:"providerModel,omitempty"`
	Tried      []string        `json:"triedModels"`
	Attempts   json.RawMessage `json:"attempts,omitempty"`
	RetryAfter int             `json:"retryAfterSeconds,omitempty"`
	LastError  string          `json:"lastError,omitempty"`
	DurationMS int64           `json:"durationMs"`
}

func newRequestView(rec storage.RequestRecord, withAttempts bool) requestView {
	v := requestView{
		ID:         rec.ID,
		CreatedAt:  rec.CreatedAt,
		Capability: rec.Capability,
		Outcome:    rec.Outcome,
		Model:      rec.Candidate,
		RetryAfter: rec.RetryAfter,
		LastError:  rec.LastError,
		DurationMS: rec.DurationMS,
	}
	if err := json.Unmarshal([]byte(rec.TriedJSON), &v.Tried); err != nil || v.Tried == nil {
		v.Tried = []string{}
	}
	if withAttempts && json.Valid([]byte(rec.AttemptsJSON)) {
		v.Attempts = json.RawMessage(rec.AttemptsJSON)
	}
	return v
}

func handleListRequests(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)
		capability := r.URL.Query().Get("capability")

		recs, err := deps.Store.ListRequests(capability, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list requests: %v", err)
			return
		}

		views := make([]requestView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, newRequestView(rec, false))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Store.GetRequest(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "request not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get request: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newRequestView(rec, true))
	}
}

func handleDeleteRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteRequest(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "request not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete request: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleRequestStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.RequestStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
