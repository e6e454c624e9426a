// Package handlers provides HTTP handlers for portfolio management.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/modules/portfolio"
	"github.com/tradedesk/papertrader/internal/server/auth"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	portfolioRepo *portfolio.PortfolioRepository
	positionRepo  *portfolio.PositionRepository
	service       *portfolio.Service
	log           zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(
	portfolioRepo *portfolio.PortfolioRepository,
	positionRepo *portfolio.PositionRepository,
	service *portfolio.Service,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		portfolioRepo: portfolioRepo,
		positionRepo:  positionRepo,
		service:       service,
		log:           log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleListPortfolios returns the caller's portfolios
func (h *Handler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.portfolioRepo.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, portfolios)
}

// HandleListPublic returns everyone's public portfolios
func (h *Handler) HandleListPublic(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.portfolioRepo.ListPublic()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, portfolios)
}

// createPayload is the request body for portfolio creation
type createPayload struct {
	Name       string `json:"name"`
	Visibility string `json:"visibility,omitempty"`
	Cash       string `json:"cash,omitempty"`
}

// HandleCreatePortfolio creates a portfolio for the caller
func (h *Handler) HandleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	visibility := domain.VisibilityPrivate
	if payload.Visibility != "" {
		visibility = domain.Visibility(payload.Visibility)
	}

	cash := decimal.Zero
	if payload.Cash != "" {
		var err error
		if cash, err = decimal.NewFromString(payload.Cash); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid cash amount")
			return
		}
	}

	created, err := h.portfolioRepo.Create(auth.UserID(r.Context()), payload.Name, visibility, cash)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// HandleGetPortfolio returns one portfolio if the caller may view it
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, ok := h.viewablePortfolio(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, p)
}

// HandleGetSummary returns a full valuation of one portfolio
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := h.viewablePortfolio(w, r)
	if !ok {
		return
	}

	summary, err := h.service.Summarize(r.Context(), p.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// HandleGetPositions returns a portfolio's open positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.viewablePortfolio(w, r)
	if !ok {
		return
	}

	positions, err := h.positionRepo.List(p.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, positions)
}

// HandleActivate makes a portfolio the caller's active one
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}

	if err := h.portfolioRepo.SetActive(auth.UserID(r.Context()), id); err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			h.writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"active": true})
}

// HandleDelete removes one of the caller's portfolios
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}

	if err := h.portfolioRepo.Delete(auth.UserID(r.Context()), id); err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			h.writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// visibilityPayload is the request body for visibility changes
type visibilityPayload struct {
	Visibility string `json:"visibility"`
}

// HandleSetVisibility changes who can view a portfolio
func (h *Handler) HandleSetVisibility(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}

	p, err := h.portfolioRepo.Get(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil || p.UserID != auth.UserID(r.Context()) {
		h.writeError(w, http.StatusNotFound, "portfolio not found")
		return
	}

	var payload visibilityPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.portfolioRepo.UpdateVisibility(id, domain.Visibility(payload.Visibility)); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"visibility": payload.Visibility})
}

// bulkVisibilityPayload is the request body for bulk visibility changes.
// An empty portfolio_ids list targets every portfolio the caller owns.
type bulkVisibilityPayload struct {
	Visibility   string  `json:"visibility"`
	PortfolioIDs []int64 `json:"portfolio_ids,omitempty"`
}

// HandleSetVisibilityBulk changes visibility across the caller's portfolios
func (h *Handler) HandleSetVisibilityBulk(w http.ResponseWriter, r *http.Request) {
	var payload bulkVisibilityPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := h.portfolioRepo.UpdateVisibilityBulk(
		auth.UserID(r.Context()),
		domain.Visibility(payload.Visibility),
		payload.PortfolioIDs,
	)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"visibility": payload.Visibility,
		"updated":    updated,
	})
}

// viewablePortfolio loads the portfolio from the URL and enforces the
// visibility rules, writing the error response itself on failure
func (h *Handler) viewablePortfolio(w http.ResponseWriter, r *http.Request) (*domain.Portfolio, bool) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return nil, false
	}

	p, err := h.portfolioRepo.Get(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	if !h.service.ViewableBy(p, auth.UserID(r.Context())) {
		h.writeError(w, http.StatusNotFound, "portfolio not found")
		return nil, false
	}

	return p, true
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
