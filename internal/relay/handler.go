package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the relay over HTTP for the browser client.
type Handler struct {
	generator Generator // nil when no API key is configured
	maxBody   int64
}

// NewHandler creates a relay handler. A nil generator is allowed: every
// request then fails with a generic 500, which the game surfaces as an
// ordinary relay failure.
func NewHandler(generator Generator, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{generator: generator, maxBody: maxBody}
}

// RegisterRoutes registers relay routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	// All methods route here so non-POST gets the documented 405 body.
	r.HandleFunc("/api/relay", h.HandleRelay)
}

// HandleRelay validates the request and forwards it to the model.
func (h *Handler) HandleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.SystemPrompt == "" {
		writeError(w, http.StatusBadRequest, "systemPrompt is required", "")
		return
	}
	if req.History == nil {
		writeError(w, http.StatusBadRequest, "history is required", "")
		return
	}
	if req.UserMessage == "" {
		writeError(w, http.StatusBadRequest, "userMessage is required", "")
		return
	}

	if h.generator == nil {
		writeError(w, http.StatusInternalServerError, "model is not configured", "")
		return
	}

	reply, err := h.generator.Generate(r.Context(), req.SystemPrompt, req.History, req.UserMessage)
	if err != nil {
		slog.Error("Model call failed", "error", err, "history_len", len(req.History))
		writeError(w, http.StatusInternalServerError, "model call failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		slog.Debug("Failed to encode relay response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	body := map[string]string{"error": message}
	if details != "" {
		body["details"] = details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to encode relay error", "error", err)
	}
}
