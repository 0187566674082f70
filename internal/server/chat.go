package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bull/ffi-copilot/internal/chat"
)

// maxRequestBody bounds the size of a POST /chat body.
const maxRequestBody = 1 << 20

// Replier runs one chat turn.
type Replier interface {
	Reply(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// NewChatHandler serves POST /chat.
func NewChatHandler(replier Replier, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req chat.Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Detail: "invalid request body: " + err.Error()})
			return
		}

		resp, err := replier.Reply(r.Context(), req)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, resp)
		case errors.Is(err, chat.ErrNoUserText):
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Detail: "Keine Nachricht erhalten (message oder messages fehlt).",
			})
		case errors.Is(err, chat.ErrUpstream):
			logger.Error("Chat model call failed", "session", req.SessionID, "error", err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{
				Detail: "Ollama-Fehler: " + err.Error(),
			})
		default:
			logger.Error("Chat turn failed", "session", req.SessionID, "error", err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
		}
	}
}
