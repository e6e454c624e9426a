// Package server provides the HTTP server and routing.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/config"
	"github.com/tradedesk/papertrader/internal/database"
	"github.com/tradedesk/papertrader/internal/events"
	markethandlers "github.com/tradedesk/papertrader/internal/modules/market/handlers"
	portfoliohandlers "github.com/tradedesk/papertrader/internal/modules/portfolio/handlers"
	reporthandlers "github.com/tradedesk/papertrader/internal/modules/reports/handlers"
	tradinghandlers "github.com/tradedesk/papertrader/internal/modules/trading/handlers"
	userhandlers "github.com/tradedesk/papertrader/internal/modules/users/handlers"
	watchlisthandlers "github.com/tradedesk/papertrader/internal/modules/watchlists/handlers"
	"github.com/tradedesk/papertrader/internal/server/auth"
)

// Handlers collects the per-module handlers mounted under /api
type Handlers struct {
	Market     *markethandlers.Handler
	Portfolio  *portfoliohandlers.Handler
	Trading    *tradinghandlers.Handler
	Reports    *reporthandlers.Handler
	Watchlists *watchlisthandlers.Handler
	Users      *userhandlers.Handler
}

// Config holds server configuration
type Config struct {
	Log          zerolog.Logger
	Cfg          *config.Config
	MarketDB     *database.DB
	LedgerDB     *database.DB
	PortfolioDB  *database.DB
	EventBus     *events.Bus
	UserResolver auth.UserResolver
	Handlers     Handlers
}

// Server is the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	cfg         *config.Config
	marketDB    *database.DB
	ledgerDB    *database.DB
	portfolioDB *database.DB
	eventBus    *events.Bus
	resolver    auth.UserResolver
	handlers    Handlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         cfg.Cfg,
		marketDB:    cfg.MarketDB,
		ledgerDB:    cfg.LedgerDB,
		portfolioDB: cfg.PortfolioDB,
		eventBus:    cfg.EventBus,
		resolver:    cfg.UserResolver,
		handlers:    cfg.Handlers,
	}

	s.setupMiddleware(cfg.Cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	systemHandlers := NewSystemHandlers(s.log, s.cfg.DataDir, s.marketDB, s.ledgerDB, s.portfolioDB, s.eventBus)
	streamHandler := NewEventsStreamHandler(s.eventBus, s.log)
	wsHandler := NewEventsWSHandler(s.eventBus, s.log)

	s.router.Route("/api", func(r chi.Router) {
		// Event feeds sit outside auth so dashboards can connect without
		// a user header
		r.Get("/events/stream", streamHandler.ServeHTTP)
		r.Get("/events/ws", wsHandler.ServeHTTP)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", systemHandlers.HandleDatabaseStats)
		})

		// Everything else requires a resolved user
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.resolver, s.log))

			s.handlers.Users.RegisterRoutes(r)
			s.handlers.Market.RegisterRoutes(r)
			s.handlers.Portfolio.RegisterRoutes(r)
			s.handlers.Trading.RegisterRoutes(r)
			s.handlers.Reports.RegisterRoutes(r)
			s.handlers.Watchlists.RegisterRoutes(r)
		})
	})
}

// handleHealth is the liveness endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, db := range []*database.DB{s.marketDB, s.ledgerDB, s.portfolioDB} {
		if err := db.Conn().PingContext(ctx); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unhealthy","database":%q}`, db.Name())
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests
func (s *Server) Router() chi.Router {
	return s.router
}
