package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kalambet/santaline/internal/orchestrator"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxMediaBodySize   = 12 << 20 // 12MB
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	httpErrorWith(w, code, errType, nil, format, args...)
}

// httpErrorWith writes the error envelope plus extra top-level fields.
func httpErrorWith(w http.ResponseWriter, code int, errType string, extra map[string]any, format string, args ...any) {
	body := map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, code, body)
}

// decodeBody reads a size-capped JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds %d bytes", tooLarge.Limit)
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func candidateNames(cs []orchestrator.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

// writeServiceError maps orchestrator failures onto HTTP responses. Quota
// exhaustion carries a Retry-After header; total failure is a 502.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var qe *orchestrator.QuotaError
	var ue *orchestrator.UnavailableError

	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.As(err, &qe):
		w.Header().Set("Retry-After", strconv.Itoa(qe.RetryAfter))
		httpErrorWith(w, http.StatusTooManyRequests, "rate_limit_error", map[string]any{
			"retryAfterSeconds": qe.RetryAfter,
			"triedModels":       candidateNames(qe.Tried),
		}, "Provider quota exceeded")
	case errors.As(err, &ue):
		logger.Warn("all provider attempts failed", "op", op, "tried", len(ue.Tried), "error", ue.LastErr)
		extra := map[string]any{
			"triedModels": candidateNames(ue.Tried),
			"note":        "All tried models returned errors. Check the API key and model availability.",
		}
		if len(ue.ProviderBody) > 0 && json.Valid(ue.ProviderBody) {
			extra["providerBody"] = json.RawMessage(ue.ProviderBody)
		}
		httpErrorWith(w, http.StatusBadGateway, "api_error", extra, "All provider attempts failed for %s", op)
	default:
		logger.Error("request failed", "op", op, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}
