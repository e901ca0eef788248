package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/santaline/internal/letter"
	"github.com/kalambet/santaline/internal/render"
	"github.com/kalambet/santaline/internal/storage"
)

type analyzeLetterRequest struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
	Prompt   string `json:"prompt"`
}

type letterResponse struct {
	Text          string `json:"text"`
	ProviderModel string `json:"providerModel"`
	Source        string `json:"source"`
}

// splitDataURL separates a base64 data URL into payload and MIME type.
// Plain base64 is returned unchanged.
func splitDataURL(s string) (data, mimeType string) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return s, ""
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return s, ""
	}
	return payload, strings.TrimSuffix(meta, ";base64")
}

func handleAnalyzeLetter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeLetterRequest
		if !decodeBody(w, r, maxMediaBodySize, &req) {
			return
		}
		data, urlMIME := splitDataURL(req.Data)
		if data == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Missing letter data")
			return
		}
		mimeType := strings.TrimSpace(req.MIMEType)
		if mimeType == "" {
			mimeType = urlMIME
		}

		raw, decodeErr := base64.StdEncoding.DecodeString(data)
		if decodeErr == nil && letter.IsPDF(mimeType, raw) {
			text, err := letter.ExtractPDFText(raw)
			switch {
			case errors.Is(err, letter.ErrNoText):
				httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "PDF has no readable text; send a photo of the letter instead")
				return
			case errors.Is(err, letter.ErrNotPDF):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid PDF: %v", err)
				return
			case err != nil:
				httpError(w, http.StatusInternalServerError, "api_error", "reading PDF: %v", err)
				return
			}

			res, err := deps.Generator.GenerateText(r.Context(), letter.SummaryPrompt(text), "")
			if err != nil {
				writeServiceError(w, deps.Logger, "analyze-letter", err)
				return
			}
			writeJSON(w, http.StatusOK, letterResponse{Text: res.Text, ProviderModel: string(res.Model), Source: "pdf"})
			return
		}
		if strings.EqualFold(mimeType, "application/pdf") {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "PDF data must be base64 encoded")
			return
		}

		prompt := strings.TrimSpace(req.Prompt)
		if prompt == "" {
			prompt = letter.DefaultSummaryPrompt
		}
		res, err := deps.Generator.AnalyzeImage(r.Context(), data, mimeType, prompt)
		if err != nil {
			writeServiceError(w, deps.Logger, "analyze-letter", err)
			return
		}
		writeJSON(w, http.StatusOK, letterResponse{Text: res.Text, ProviderModel: string(res.Model), Source: "image"})
	}
}

func handleRenderLetter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req render.Payload
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		id, err := render.Enqueue(deps.Store, req)
		if err != nil {
			writeServiceError(w, deps.Logger, "letters/render", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     id,
			"status": "queued",
		})
	}
}

type jobView struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		view := jobView{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		}
		if job.ResultJSON != "" {
			view.Result = json.RawMessage(job.ResultJSON)
		}
		writeJSON(w, http.StatusOK, view)
	}
}
