// Package handlers provides HTTP handlers for watchlists.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/modules/watchlists"
	"github.com/tradedesk/papertrader/internal/server/auth"
)

// Handler handles watchlist HTTP requests
type Handler struct {
	repo *watchlists.Repository
	log  zerolog.Logger
}

// NewHandler creates a new watchlists handler
func NewHandler(repo *watchlists.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "watchlists").Logger(),
	}
}

// RegisterRoutes registers all watchlist routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/watchlists", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Delete("/", h.HandleDelete)
			r.Post("/symbols", h.HandleAddSymbol)
			r.Delete("/symbols/{symbol}", h.HandleRemoveSymbol)
		})
	})
}

// HandleList returns the caller's watchlists
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	lists, err := h.repo.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, lists)
}

// HandleCreate creates a watchlist
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := h.repo.Create(auth.UserID(r.Context()), payload.Name)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// HandleGet returns one watchlist with its symbols
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid watchlist id")
		return
	}

	wl, err := h.repo.Get(auth.UserID(r.Context()), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if wl == nil {
		h.writeError(w, http.StatusNotFound, "watchlist not found")
		return
	}

	h.writeJSON(w, http.StatusOK, wl)
}

// HandleDelete removes a watchlist
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid watchlist id")
		return
	}

	if err := h.repo.Delete(auth.UserID(r.Context()), id); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// HandleAddSymbol adds a symbol to a watchlist
func (h *Handler) HandleAddSymbol(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid watchlist id")
		return
	}

	var payload struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.repo.AddSymbol(auth.UserID(r.Context()), id, payload.Symbol); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"added": true})
}

// HandleRemoveSymbol removes a symbol from a watchlist
func (h *Handler) HandleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid watchlist id")
		return
	}

	if err := h.repo.RemoveSymbol(auth.UserID(r.Context()), id, chi.URLParam(r, "symbol")); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
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
