package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/backchannel/internal/catalog"
	"github.com/ashureev/backchannel/internal/domain"
	"github.com/ashureev/backchannel/internal/session"
	"github.com/go-chi/chi/v5"
)

// levelView is a catalog entry joined with the player's progress. The
// system prompt stays server-side.
type levelView struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	Briefing      string `json:"briefing"`
	MissionLength int    `json:"missionLength"`
	PassScore     int    `json:"passScore"`
	Unlocked      bool   `json:"unlocked"`
	Best          int    `json:"best"`
}

// stateView is the full game state the view renders from.
type stateView struct {
	Screen     string                   `json:"screen"`
	Session    session.Snapshot         `json:"session"`
	Transcript []domain.TranscriptEntry `json:"transcript"`
	Debrief    *session.Debrief         `json:"debrief,omitempty"`
}

// RegisterRoutes registers game routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/levels", h.GetLevels)
		r.Get("/state", h.GetState)
		r.Route("/game", func(r chi.Router) {
			r.Post("/start", h.StartLevel)
			r.Post("/turn", h.SubmitTurn)
			r.Post("/reset", h.Reset)
		})
	})
}

// GetLevels returns the catalog joined with unlock state and high scores.
func (h *Handler) GetLevels(w http.ResponseWriter, r *http.Request) {
	progress, err := h.repo.LoadProgress(r.Context())
	if err != nil {
		slog.Error("Failed to load progress", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load progress")
		return
	}

	views := make([]levelView, 0, len(h.levels))
	for i, l := range h.levels {
		views = append(views, levelView{
			ID:            l.ID,
			Title:         l.Title,
			Briefing:      l.Briefing,
			MissionLength: l.MissionLength,
			PassScore:     l.PassScore,
			Unlocked:      progress.Unlocked(i),
			Best:          progress.Best(i),
		})
	}

	JSON(w, http.StatusOK, map[string]interface{}{"levels": views})
}

// GetState returns the visible screen, session snapshot, and transcript.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, stateView{
		Screen:     string(h.nav.Current()),
		Session:    h.controller.Snapshot(),
		Transcript: h.controller.Transcript(),
		Debrief:    h.controller.LastDebrief(),
	})
}

// StartLevel begins a mission.
func (h *Handler) StartLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int `json:"id"`
	}
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if catalog.ByID(h.levels, req.ID) == nil {
		Error(w, http.StatusNotFound, "unknown level")
		return
	}

	progress, err := h.repo.LoadProgress(r.Context())
	if err != nil {
		slog.Error("Failed to load progress", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if !progress.Unlocked(req.ID - 1) {
		Error(w, http.StatusForbidden, "level is locked")
		return
	}

	h.controller.StartLevel(r.Context(), req.ID)
	JSON(w, http.StatusOK, h.controller.Snapshot())
}

// SubmitTurn submits one player message.
func (h *Handler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.controller.SubmitTurn(r.Context(), req.Text)
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "text is required")
		return
	case errors.Is(err, session.ErrNotAcceptingInput):
		Error(w, http.StatusConflict, "session is not accepting input")
		return
	case err != nil:
		slog.Error("Turn submission failed", "error", err)
		Error(w, http.StatusInternalServerError, "turn submission failed")
		return
	}

	JSON(w, http.StatusOK, stateView{
		Screen:     string(h.nav.Current()),
		Session:    h.controller.Snapshot(),
		Transcript: h.controller.Transcript(),
		Debrief:    h.controller.LastDebrief(),
	})
}

// Reset abandons the active session and returns to level select.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.controller.Reset()
	JSON(w, http.StatusOK, h.controller.Snapshot())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	return json.NewDecoder(r.Body).Decode(v)
}
