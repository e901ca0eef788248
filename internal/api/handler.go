package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/santaline/internal/orchestrator"
	"github.com/kalambet/santaline/internal/persona"
	"github.com/kalambet/santaline/internal/storage"
)

// Generator is the capability surface the handlers call.
type Generator interface {
	GenerateText(ctx context.Context, prompt, modelHint string) (*orchestrator.TextResult, error)
	GenerateImage(ctx context.Context, prompt, aspectRatio string, contextImage *orchestrator.Media) (*orchestrator.ImageResult, error)
	AnalyzeImage(ctx context.Context, imageBase64, mimeType, prompt string) (*orchestrator.TextResult, error)
}

type Deps struct {
	Generator Generator
	Store     *storage.Store
	Prompts   *persona.Builder
	// Token guards the management endpoints.
	Token string
	// APIKeyLength is reported by the test-config endpoint. The key itself
	// never leaves the process.
	APIKeyLength int
	Version      string
	Logger       *slog.Logger
}

// NewHandler returns the HTTP API: public generation endpoints under /api,
// bearer-protected request log management, and /health.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Prompts == nil {
		deps.Prompts = persona.New(0)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(deps.Logger))
	r.Use(CORS)

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/test-config", handleTestConfig(deps))

		r.Post("/generate-content", handleGenerateContent(deps))
		r.Post("/generate-image", handleGenerateImage(deps))
		r.Post("/analyze-image", handleAnalyzeImage(deps))
		r.Post("/transcribe-audio", handleTranscribeAudio(deps))
		r.Post("/chat", handleChat(deps))
		r.Post("/analyze-letter", handleAnalyzeLetter(deps))

		r.Post("/letters/render", handleRenderLetter(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(deps.Token))
			r.Get("/requests", handleListRequests(deps))
			r.Get("/requests/stats", handleRequestStats(deps))
			r.Get("/requests/{id}", handleGetRequest(deps))
			r.Delete("/requests/{id}", handleDeleteRequest(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleTestConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"message":   "Configuration Test",
			"hasKey":    deps.APIKeyLength > 0,
			"keyLength": deps.APIKeyLength,
			"version":   deps.Version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
