package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolios", func(r chi.Router) {
		r.Get("/", h.HandleListPortfolios)
		r.Post("/", h.HandleCreatePortfolio)
		r.Get("/public", h.HandleListPublic)
		r.Put("/visibility", h.HandleSetVisibilityBulk)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetPortfolio)
			r.Delete("/", h.HandleDelete)
			r.Get("/summary", h.HandleGetSummary)
			r.Get("/positions", h.HandleGetPositions)
			r.Post("/activate", h.HandleActivate)
			r.Put("/visibility", h.HandleSetVisibility)
		})
	})
}
