package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kalambet/santaline/internal/orchestrator"
)

// TranscribePrompt is sent alongside inline audio.
const TranscribePrompt = "Transcribe this audio exactly. Return ONLY the transcribed text, nothing else."

const defaultAudioMIME = "audio/webm"

type generateContentRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type textResponse struct {
	Text          string `json:"text"`
	ProviderModel string `json:"providerModel"`
}

func handleGenerateContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateContentRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Missing prompt")
			return
		}

		res, err := deps.Generator.GenerateText(r.Context(), req.Prompt, req.Model)
		if err != nil {
			writeServiceError(w, deps.Logger, "generate-content", err)
			return
		}
		writeJSON(w, http.StatusOK, textResponse{Text: res.Text, ProviderModel: string(res.Model)})
	}
}

type generateImageRequest struct {
	Prompt       string `json:"prompt"`
	AspectRatio  string `json:"aspectRatio"`
	ContextImage string `json:"contextImage"`
	ContextMIME  string `json:"contextImageMimeType"`
}

type imageResponse struct {
	ImageData         string          `json:"imageData,omitempty"`
	MIMEType          string          `json:"mimeType,omitempty"`
	ProviderModel     string          `json:"providerModel,omitempty"`
	UseFallback       bool            `json:"useFallback,omitempty"`
	RetryAfterSeconds int             `json:"retryAfterSeconds,omitempty"`
	TriedModels       []string        `json:"triedModels,omitempty"`
	ProviderBody      json.RawMessage `json:"providerBody,omitempty"`
}

func handleGenerateImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateImageRequest
		if !decodeBody(w, r, maxMediaBodySize, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Missing prompt")
			return
		}

		var media *orchestrator.Media
		if strings.TrimSpace(req.ContextImage) != "" {
			media = &orchestrator.Media{Data: req.ContextImage, MIMEType: req.ContextMIME}
		}

		res, err := deps.Generator.GenerateImage(r.Context(), req.Prompt, req.AspectRatio, media)
		if err != nil {
			writeServiceError(w, deps.Logger, "generate-image", err)
			return
		}

		if res.UseFallback {
			out := imageResponse{
				UseFallback:       true,
				RetryAfterSeconds: res.RetryAfter,
				TriedModels:       candidateNames(res.Tried),
			}
			if len(res.ProviderBody) > 0 && json.Valid(res.ProviderBody) {
				out.ProviderBody = res.ProviderBody
			}
			writeJSON(w, http.StatusOK, out)
			return
		}
		writeJSON(w, http.StatusOK, imageResponse{
			ImageData:     res.ImageData,
			MIMEType:      res.MIMEType,
			ProviderModel: string(res.Model),
		})
	}
}

type analyzeImageRequest struct {
	ImageData string `json:"imageData"`
	MIMEType  string `json:"mimeType"`
	Prompt    string `json:"prompt"`
}

func handleAnalyzeImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeImageRequest
		if !decodeBody(w, r, maxMediaBodySize, &req) {
			return
		}
		if strings.TrimSpace(req.ImageData) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Missing imageData (base64)")
			return
		}

		res, err := deps.Generator.AnalyzeImage(r.Context(), req.ImageData, req.MIMEType, req.Prompt)
		if err != nil {
			writeServiceError(w, deps.Logger, "analyze-image", err)
			return
		}
		writeJSON(w, http.StatusOK, textResponse{Text: res.Text, ProviderModel: string(res.Model)})
	}
}

type transcribeRequest struct {
	AudioData string `json:"audioData"`
	MIMEType  string `json:"mimeType"`
}

func handleTranscribeAudio(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transcribeRequest
		if !decodeBody(w, r, maxMediaBodySize, &req) {
			return
		}
		if strings.TrimSpace(req.AudioData) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Missing audio data")
			return
		}
		mime := strings.TrimSpace(req.MIMEType)
		if mime == "" && !strings.HasPrefix(strings.TrimSpace(req.AudioData), "data:") {
			mime = defaultAudioMIME
		}

		res, err := deps.Generator.AnalyzeImage(r.Context(), req.AudioData, mime, TranscribePrompt)
		if err != nil {
			writeServiceError(w, deps.Logger, "transcribe-audio", err)
			return
		}
		writeJSON(w, http.StatusOK, textResponse{Text: res.Text, ProviderModel: string(res.Model)})
	}
}
