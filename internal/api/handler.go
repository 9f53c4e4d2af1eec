// Package api provides HTTP handlers for the Backchannel game API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/backchannel/internal/domain"
	"github.com/ashureev/backchannel/internal/screen"
	"github.com/ashureev/backchannel/internal/session"
	"github.com/ashureev/backchannel/internal/store"
)

// Handler serves the game endpoints the browser view binds to.
type Handler struct {
	levels     []domain.LevelDefinition
	repo       store.Repository
	controller *session.Controller
	nav        *screen.Navigator
	maxBody    int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(levels []domain.LevelDefinition, repo store.Repository, controller *session.Controller, nav *screen.Navigator, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		levels:     levels,
		repo:       repo,
		controller: controller,
		nav:        nav,
		maxBody:    maxBody,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
