// Package handlers provides HTTP handlers for order execution.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/modules/trading"
	"github.com/tradedesk/papertrader/internal/server/auth"
)

// Handler handles trading HTTP requests
type Handler struct {
	service *trading.Service
	log     zerolog.Logger
}

// NewHandler creates a new trading handler
func NewHandler(service *trading.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "trading").Logger(),
	}
}

// orderPayload is the request body for order endpoints
type orderPayload struct {
	PortfolioID int64  `json:"portfolio_id,omitempty"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Quantity    int64  `json:"quantity"`
	Price       string `json:"price,omitempty"`
}

func (h *Handler) decodeOrder(r *http.Request) (trading.OrderRequest, error) {
	var payload orderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return trading.OrderRequest{}, errors.New("invalid JSON body")
	}

	req := trading.OrderRequest{
		UserID:      auth.UserID(r.Context()),
		PortfolioID: payload.PortfolioID,
		Symbol:      payload.Symbol,
		Side:        payload.Side,
		Quantity:    payload.Quantity,
	}

	if payload.Price != "" {
		price, err := decimal.NewFromString(payload.Price)
		if err != nil {
			return trading.OrderRequest{}, errors.New("invalid price")
		}
		req.Price = price
	}

	return req, nil
}

// HandleExecuteOrder executes an order against the caller's portfolio
func (h *Handler) HandleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeOrder(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.ExecuteOrder(r.Context(), req)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// HandlePreviewOrder returns the would-be outcome of an order without
// executing it
func (h *Handler) HandlePreviewOrder(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeOrder(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.PreviewOrder(r.Context(), req)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleGetHistory returns recent trades for a portfolio
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := strconv.ParseInt(r.URL.Query().Get("portfolio_id"), 10, 64)
	if err != nil || portfolioID <= 0 {
		h.writeError(w, http.StatusBadRequest, "portfolio_id query parameter is required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	trades, err := h.service.History(trading.HistoryQuery{
		UserID:      auth.UserID(r.Context()),
		PortfolioID: portfolioID,
		From:        r.URL.Query().Get("from"),
		To:          r.URL.Query().Get("to"),
		Limit:       limit,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, trades)
}

// writeOrderError maps policy violations to 4xx statuses
func (h *Handler) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrShortingDisabled):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrUnknownSymbol):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPortfolioNotFound),
		errors.Is(err, domain.ErrNoActivePortfolio):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPriceUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg("Order failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
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
