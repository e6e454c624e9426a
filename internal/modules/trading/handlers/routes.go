package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trading routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.HandleExecuteOrder)
		r.Post("/preview", h.HandlePreviewOrder)
		r.Get("/history", h.HandleGetHistory)
	})
}
