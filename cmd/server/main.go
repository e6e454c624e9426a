package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/clients/quotes"
	"github.com/tradedesk/papertrader/internal/config"
	"github.com/tradedesk/papertrader/internal/database"
	"github.com/tradedesk/papertrader/internal/events"
	"github.com/tradedesk/papertrader/internal/modules/market"
	markethandlers "github.com/tradedesk/papertrader/internal/modules/market/handlers"
	"github.com/tradedesk/papertrader/internal/modules/portfolio"
	portfoliohandlers "github.com/tradedesk/papertrader/internal/modules/portfolio/handlers"
	"github.com/tradedesk/papertrader/internal/modules/reports"
	reporthandlers "github.com/tradedesk/papertrader/internal/modules/reports/handlers"
	"github.com/tradedesk/papertrader/internal/modules/trading"
	tradinghandlers "github.com/tradedesk/papertrader/internal/modules/trading/handlers"
	"github.com/tradedesk/papertrader/internal/modules/users"
	userhandlers "github.com/tradedesk/papertrader/internal/modules/users/handlers"
	"github.com/tradedesk/papertrader/internal/modules/watchlists"
	watchlisthandlers "github.com/tradedesk/papertrader/internal/modules/watchlists/handlers"
	"github.com/tradedesk/papertrader/internal/scheduler"
	"github.com/tradedesk/papertrader/internal/server"
	"github.com/tradedesk/papertrader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting paper trader")

	// Open the three databases
	marketDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "market.db"),
		Profile: database.ProfileCache,
		Name:    "market",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer marketDB.Close()

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	portfolioDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "portfolio.db"),
		Profile: database.ProfileStandard,
		Name:    "portfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer portfolioDB.Close()

	for _, db := range []*database.DB{marketDB, ledgerDB, portfolioDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to run migrations")
		}
	}

	eventBus := events.NewBus(log)

	// Market data
	var quoteSource market.QuoteSource
	if cfg.QuotesBaseURL != "" {
		quoteSource = quotes.NewClient(cfg.QuotesBaseURL, log)
	} else {
		log.Warn().Msg("No quote source configured, prices come from imported data only")
	}
	stockRepo := market.NewStockRepository(marketDB.Conn(), log)
	marketService := market.NewService(stockRepo, quoteSource, eventBus, log)
	importer := market.NewImporter(stockRepo, eventBus, log)

	// Portfolio state
	portfolioRepo := portfolio.NewPortfolioRepository(portfolioDB.Conn(), log)
	positionRepo := portfolio.NewPositionRepository(portfolioDB.Conn(), log)

	// Trade ledger
	tradeRepo := trading.NewTradeRepository(ledgerDB.Conn(), log)
	tradingService := trading.NewService(
		tradeRepo, portfolioRepo, positionRepo,
		marketService, marketService, eventBus,
		trading.Config{AllowShort: cfg.AllowShort},
		log,
	)

	portfolioService := portfolio.NewService(portfolioRepo, positionRepo, marketService, tradeRepo, log)

	// Reports
	reportRepo := reports.NewRepository(portfolioDB.Conn(), log)
	reportService := reports.NewService(reportRepo, portfolioService, tradeRepo, eventBus, log)

	// Users and watchlists
	userRepo := users.NewRepository(portfolioDB.Conn(), log)
	userService := users.NewService(userRepo, portfolioRepo, cfg.StartingCash, log)
	watchlistRepo := watchlists.NewRepository(portfolioDB.Conn(), log)

	// Background jobs
	sched := scheduler.New(log, eventBus)
	if err := registerJobs(sched, log, marketService, portfolioRepo, reportService, marketDB, ledgerDB, portfolioDB); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:          log,
		Cfg:          cfg,
		MarketDB:     marketDB,
		LedgerDB:     ledgerDB,
		PortfolioDB:  portfolioDB,
		EventBus:     eventBus,
		UserResolver: userService,
		Handlers: server.Handlers{
			Market:     markethandlers.NewHandler(marketService, importer, log),
			Portfolio:  portfoliohandlers.NewHandler(portfolioRepo, positionRepo, portfolioService, log),
			Trading:    tradinghandlers.NewHandler(tradingService, log),
			Reports:    reporthandlers.NewHandler(reportService, log),
			Watchlists: watchlisthandlers.NewHandler(watchlistRepo, log),
			Users:      userhandlers.NewHandler(userService, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// registerJobs wires the background jobs onto the cron scheduler
func registerJobs(
	sched *scheduler.Scheduler,
	log zerolog.Logger,
	marketService *market.Service,
	portfolioRepo *portfolio.PortfolioRepository,
	reportService *reports.Service,
	marketDB, ledgerDB, portfolioDB *database.DB,
) error {
	// Quote refresh every 5 minutes (only useful with a quote source, but
	// the job is a no-op without one)
	if err := sched.AddJob("0 */5 * * * *", scheduler.NewRefreshQuotesJob(marketService, log)); err != nil {
		return err
	}

	// End-of-day report snapshots, 18:00 on weekdays
	if err := sched.AddJob("0 0 18 * * MON-FRI", scheduler.NewDailyReportsJob(portfolioRepo, reportService, log)); err != nil {
		return err
	}

	// WAL truncation every 6 hours
	if err := sched.AddJob("0 0 */6 * * *", scheduler.NewWALCheckpointJob(log, marketDB, ledgerDB, portfolioDB)); err != nil {
		return err
	}

	return nil
}
