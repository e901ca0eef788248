package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/santaline/internal/persona"
)

type chatRequest struct {
	Context  persona.CallContext `json:"context"`
	Language string              `json:"language"`
	History  []persona.Turn      `json:"history"`
	Message  string              `json:"message"`
	Model    string              `json:"model"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		prompt, err := deps.Prompts.BuildPrompt(req.Context, persona.ParseLanguage(req.Language), req.History, req.Message)
		if errors.Is(err, persona.ErrEmptyMessage) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Missing message")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "building prompt: %v", err)
			return
		}

		res, err := deps.Generator.GenerateText(r.Context(), prompt, req.Model)
		if err != nil {
			writeServiceError(w, deps.Logger, "chat", err)
			return
		}
		writeJSON(w, http.StatusOK, textResponse{Text: res.Text, ProviderModel: string(res.Model)})
	}
}
