// Package handlers provides HTTP handlers for user accounts.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/modules/users"
	"github.com/tradedesk/papertrader/internal/server/auth"
)

// Handler handles user HTTP requests
type Handler struct {
	service *users.Service
	log     zerolog.Logger
}

// NewHandler creates a new users handler
func NewHandler(service *users.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "users").Logger(),
	}
}

// RegisterRoutes registers all user routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/me", h.HandleGetMe)
}

// HandleGetMe returns the calling user's account
func (h *Handler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Get(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if user == nil {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}

	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
