// Package handlers provides HTTP handlers for market data.
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
	"github.com/tradedesk/papertrader/internal/modules/market"
)

// Handler handles market data HTTP requests
type Handler struct {
	service  *market.Service
	importer *market.Importer
	log      zerolog.Logger
}

// NewHandler creates a new market handler
func NewHandler(service *market.Service, importer *market.Importer, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		importer: importer,
		log:      log.With().Str("handler", "market").Logger(),
	}
}

// HandleListStocks returns known stocks
func (h *Handler) HandleListStocks(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); q != "" {
		stocks, err := h.service.SearchStocks(q, queryInt(r, "limit", 10))
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.writeJSON(w, http.StatusOK, stocks)
		return
	}

	stocks, err := h.service.ListStocks(queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, stocks)
}

// HandleGetStock returns one stock by symbol
func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	stock, err := h.service.GetStock(symbol)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stock == nil {
		h.writeError(w, http.StatusNotFound, "stock not found")
		return
	}

	yearLow, yearHigh, err := h.service.YearRange(symbol)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		domain.Stock
		ChangePercent decimal.Decimal `json:"change_percent"`
		YearLow       decimal.Decimal `json:"year_low"`
		YearHigh      decimal.Decimal `json:"year_high"`
	}{Stock: *stock, ChangePercent: stock.ChangePercent(), YearLow: yearLow, YearHigh: yearHigh})
}

// HandleGetPrice resolves the current price for a symbol
func (h *Handler) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	price, err := h.service.GetPrice(r.Context(), symbol)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownSymbol):
			h.writeError(w, http.StatusNotFound, "unknown symbol")
		case errors.Is(err, domain.ErrPriceUnavailable):
			h.writeError(w, http.StatusServiceUnavailable, "no price available")
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"price":  price,
	})
}

// HandleGetBars returns recent daily bars for a symbol
func (h *Handler) HandleGetBars(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	limit := queryInt(r, "limit", 60)

	bars, err := h.service.GetBars(symbol, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, bars)
}

// HandleRefreshPrices triggers a quote refresh for all symbols
func (h *Handler) HandleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.RefreshPrices(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"updated": updated,
	})
}

// HandleImportCSV imports an uploaded bhavcopy CSV file
func (h *Handler) HandleImportCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing 'file' form field")
		return
	}
	defer file.Close()

	result, err := h.importer.Import(file, header.Filename)
	if err != nil {
		h.log.Error().Err(err).Str("filename", header.Filename).Msg("CSV import failed")
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// Helper methods

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

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
