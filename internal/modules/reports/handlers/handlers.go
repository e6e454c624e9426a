// Package handlers provides HTTP handlers for portfolio reports.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/modules/reports"
	"github.com/tradedesk/papertrader/internal/server/auth"
)

// Handler handles report HTTP requests
type Handler struct {
	service *reports.Service
	log     zerolog.Logger
}

// NewHandler creates a new reports handler
func NewHandler(service *reports.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "reports").Logger(),
	}
}

// RegisterRoutes registers all report routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/", h.HandleListUserReports)
		r.Get("/{id}", h.HandleGetReport)
		r.Route("/portfolio/{portfolioID}", func(r chi.Router) {
			r.Get("/", h.HandleListReports)
			r.Post("/generate", h.HandleGenerate)
			r.Get("/fifo/{symbol}", h.HandleFIFOAttribution)
		})
	})
}

// HandleGetReport returns one report with holdings
func (h *Handler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}

	report, err := h.service.Get(auth.UserID(r.Context()), id)
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			h.writeError(w, http.StatusNotFound, "report not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if report == nil {
		h.writeError(w, http.StatusNotFound, "report not found")
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// HandleListUserReports returns reports across all of the caller's
// portfolios, newest first
func (h *Handler) HandleListUserReports(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := h.service.ListForUser(auth.UserID(r.Context()), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

// HandleListReports returns a portfolio's reports newest first
func (h *Handler) HandleListReports(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := strconv.ParseInt(chi.URLParam(r, "portfolioID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}

	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := h.service.List(auth.UserID(r.Context()), portfolioID, limit)
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			h.writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

// HandleGenerate creates a snapshot for the portfolio, optionally for a
// specific date via the ?date= query parameter
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := strconv.ParseInt(chi.URLParam(r, "portfolioID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}

	report, err := h.service.GenerateForUser(r.Context(), auth.UserID(r.Context()), portfolioID, r.URL.Query().Get("date"))
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			h.writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, report)
}

// HandleFIFOAttribution returns the FIFO pnl breakdown for one symbol
func (h *Handler) HandleFIFOAttribution(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := strconv.ParseInt(chi.URLParam(r, "portfolioID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}

	attribution, err := h.service.AttributeFIFO(auth.UserID(r.Context()), portfolioID, chi.URLParam(r, "symbol"))
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			h.writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, attribution)
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
