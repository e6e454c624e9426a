package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all market data routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/stocks", func(r chi.Router) {
		r.Get("/", h.HandleListStocks)
		r.Post("/import", h.HandleImportCSV)
		r.Post("/refresh-prices", h.HandleRefreshPrices)
		r.Get("/{symbol}", h.HandleGetStock)
		r.Get("/{symbol}/price", h.HandleGetPrice)
		r.Get("/{symbol}/bars", h.HandleGetBars)
	})
}
