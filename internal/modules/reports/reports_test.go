package reports

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/modules/portfolio"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE portfolios (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			visibility TEXT NOT NULL DEFAULT 'PRIVATE',
			cash TEXT NOT NULL DEFAULT '0',
			initial_cash TEXT NOT NULL DEFAULT '0',
			is_active INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, name)
		);
		CREATE TABLE positions (
			portfolio_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			avg_price TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (portfolio_id, symbol)
		);
		CREATE TABLE reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id INTEGER NOT NULL,
			report_date DATE NOT NULL,
			cash TEXT NOT NULL,
			holdings_value TEXT NOT NULL,
			total_value TEXT NOT NULL,
			realized_pnl TEXT NOT NULL DEFAULT '0',
			unrealized_pnl TEXT NOT NULL DEFAULT '0',
			prev_report_id INTEGER,
			value_change TEXT NOT NULL DEFAULT '0',
			value_change_pct TEXT NOT NULL DEFAULT '0',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (portfolio_id, report_date)
		);
		CREATE TABLE report_holdings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			report_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			avg_price TEXT NOT NULL,
			market_price TEXT NOT NULL,
			market_value TEXT NOT NULL,
			unrealized_pnl TEXT NOT NULL
		);
		INSERT INTO users (username) VALUES ('alice');
	`)
	require.NoError(t, err)

	return db
}

type stubPrices struct {
	prices map[string]decimal.Decimal
}

func (s *stubPrices) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if p, ok := s.prices[symbol]; ok {
		return p, nil
	}
	return decimal.Zero, domain.ErrPriceUnavailable
}

type stubTrades struct {
	trades   []domain.Trade
	realized decimal.Decimal
}

func (s *stubTrades) BySymbol(portfolioID int64, symbol string) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.PortfolioID == portfolioID && t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubTrades) TotalRealizedPnL(portfolioID int64) (decimal.Decimal, error) {
	return s.realized, nil
}

type reportsEnv struct {
	db           *sql.DB
	repo         *Repository
	service      *Service
	portfolioID  int64
	prices       *stubPrices
	trades       *stubTrades
	positionRepo *portfolio.PositionRepository
}

func newEnv(t *testing.T) *reportsEnv {
	t.Helper()

	db := newTestDB(t)
	log := zerolog.Nop()

	portfolioRepo := portfolio.NewPortfolioRepository(db, log)
	positionRepo := portfolio.NewPositionRepository(db, log)

	p, err := portfolioRepo.Create(1, "Default", domain.VisibilityPrivate, dec("5000"))
	require.NoError(t, err)

	prices := &stubPrices{prices: map[string]decimal.Decimal{}}
	trades := &stubTrades{}
	summaries := portfolio.NewService(portfolioRepo, positionRepo, prices, trades, log)
	repo := NewRepository(db, log)
	service := NewService(repo, summaries, trades, nil, log)

	return &reportsEnv{
		db:           db,
		repo:         repo,
		service:      service,
		portfolioID:  p.ID,
		prices:       prices,
		trades:       trades,
		positionRepo: positionRepo,
	}
}

func (e *reportsEnv) setPosition(t *testing.T, symbol string, quantity int64, avgPrice string) {
	t.Helper()
	_, err := e.db.Exec(
		"INSERT OR REPLACE INTO positions (portfolio_id, symbol, quantity, avg_price) VALUES (?, ?, ?, ?)",
		e.portfolioID, symbol, quantity, avgPrice,
	)
	require.NoError(t, err)
}

func TestGenerate_SnapshotsValuation(t *testing.T) {
	env := newEnv(t)
	env.setPosition(t, "INFY", 10, "100")
	env.prices.prices["INFY"] = dec("120")
	env.trades.realized = dec("75")

	report, err := env.service.Generate(context.Background(), env.portfolioID, "2026-08-28")
	require.NoError(t, err)
	require.NotZero(t, report.ID)

	assert.Equal(t, "2026-08-28", report.ReportDate)
	assert.True(t, report.Cash.Equal(dec("5000")))
	assert.True(t, report.HoldingsValue.Equal(dec("1200")))
	assert.True(t, report.TotalValue.Equal(dec("6200")))
	assert.True(t, report.RealizedPnL.Equal(dec("75")))
	assert.True(t, report.UnrealizedPnL.Equal(dec("200")))
	assert.Nil(t, report.PrevReportID)
	assert.True(t, report.ValueChange.IsZero())

	stored, err := env.service.Get(1, report.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, stored.Holdings, 1)
	assert.Equal(t, "INFY", stored.Holdings[0].Symbol)
	assert.Equal(t, int64(10), stored.Holdings[0].Quantity)
}

func TestGenerate_LinksPreviousReport(t *testing.T) {
	env := newEnv(t)
	env.setPosition(t, "INFY", 10, "100")
	env.prices.prices["INFY"] = dec("100")

	first, err := env.service.Generate(context.Background(), env.portfolioID, "2026-08-27")
	require.NoError(t, err)

	env.prices.prices["INFY"] = dec("130")
	second, err := env.service.Generate(context.Background(), env.portfolioID, "2026-08-28")
	require.NoError(t, err)

	require.NotNil(t, second.PrevReportID)
	assert.Equal(t, first.ID, *second.PrevReportID)
	assert.True(t, second.ValueChange.Equal(dec("300")), "value change was %s", second.ValueChange)
	assert.True(t, second.ValueChangePct.Equal(dec("5")), "value change pct was %s", second.ValueChangePct)
}

func TestListForUser_SpansPortfolios(t *testing.T) {
	env := newEnv(t)
	env.setPosition(t, "INFY", 10, "100")
	env.prices.prices["INFY"] = dec("100")

	_, err := env.service.Generate(context.Background(), env.portfolioID, "2026-08-27")
	require.NoError(t, err)
	_, err = env.service.Generate(context.Background(), env.portfolioID, "2026-08-28")
	require.NoError(t, err)

	list, err := env.service.ListForUser(1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2026-08-28", list[0].ReportDate, "newest first")

	list, err = env.service.ListForUser(2, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGenerate_SameDateReplacesReport(t *testing.T) {
	env := newEnv(t)
	env.setPosition(t, "INFY", 10, "100")
	env.prices.prices["INFY"] = dec("100")

	first, err := env.service.Generate(context.Background(), env.portfolioID, "2026-08-28")
	require.NoError(t, err)

	env.prices.prices["INFY"] = dec("110")
	second, err := env.service.Generate(context.Background(), env.portfolioID, "2026-08-28")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Nil(t, second.PrevReportID, "same date does not link to itself")

	list, err := env.service.List(1, env.portfolioID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].TotalValue.Equal(dec("6100")))
}

func TestGenerate_UnknownPortfolio(t *testing.T) {
	env := newEnv(t)

	_, err := env.service.Generate(context.Background(), 999, "")
	require.ErrorIs(t, err, domain.ErrPortfolioNotFound)
}

func TestAttributeFIFO(t *testing.T) {
	env := newEnv(t)
	env.trades.trades = []domain.Trade{
		{PortfolioID: env.portfolioID, Symbol: "INFY", Side: "BUY", Quantity: 10, Price: dec("100")},
		{PortfolioID: env.portfolioID, Symbol: "INFY", Side: "BUY", Quantity: 10, Price: dec("120")},
		{PortfolioID: env.portfolioID, Symbol: "INFY", Side: "SELL", Quantity: 15, Price: dec("130")},
	}

	attribution, err := env.service.AttributeFIFO(1, env.portfolioID, "INFY")
	require.NoError(t, err)

	// Oldest lot consumed first: 10 from the 100 lot, 5 from the 120 lot
	require.Len(t, attribution.Matchings, 2)
	assert.Equal(t, int64(10), attribution.Matchings[0].Quantity)
	assert.True(t, attribution.Matchings[0].OpenPrice.Equal(dec("100")))
	assert.True(t, attribution.Matchings[0].PnL.Equal(dec("300")))
	assert.Equal(t, int64(5), attribution.Matchings[1].Quantity)
	assert.True(t, attribution.Matchings[1].OpenPrice.Equal(dec("120")))
	assert.True(t, attribution.Matchings[1].PnL.Equal(dec("50")))

	assert.True(t, attribution.TotalPnL.Equal(dec("350")))

	require.Len(t, attribution.OpenLots, 1)
	assert.Equal(t, int64(5), attribution.OpenLots[0].Quantity)
	assert.True(t, attribution.OpenLots[0].Price.Equal(dec("120")))
}

func TestReports_PrivatePortfolioHiddenFromOthers(t *testing.T) {
	env := newEnv(t)
	env.setPosition(t, "INFY", 10, "100")
	env.prices.prices["INFY"] = dec("100")

	report, err := env.service.Generate(context.Background(), env.portfolioID, "2026-08-28")
	require.NoError(t, err)

	_, err = env.service.List(2, env.portfolioID, 10)
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)

	_, err = env.service.Get(2, report.ID)
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)

	_, err = env.service.AttributeFIFO(2, env.portfolioID, "INFY")
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)

	_, err = env.service.GenerateForUser(context.Background(), 2, env.portfolioID, "2026-08-29")
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)
}

func TestReports_PublicPortfolioReadableButNotGenerable(t *testing.T) {
	env := newEnv(t)
	env.setPosition(t, "INFY", 10, "100")
	env.prices.prices["INFY"] = dec("100")

	report, err := env.service.Generate(context.Background(), env.portfolioID, "2026-08-28")
	require.NoError(t, err)

	portfolioRepo := portfolio.NewPortfolioRepository(env.db, zerolog.Nop())
	require.NoError(t, portfolioRepo.UpdateVisibility(env.portfolioID, domain.VisibilityPublic))

	list, err := env.service.List(2, env.portfolioID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stored, err := env.service.Get(2, report.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	_, err = env.service.AttributeFIFO(2, env.portfolioID, "INFY")
	require.NoError(t, err)

	// Generation stays owner only regardless of visibility.
	_, err = env.service.GenerateForUser(context.Background(), 2, env.portfolioID, "2026-08-29")
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)

	_, err = env.service.GenerateForUser(context.Background(), 1, env.portfolioID, "2026-08-29")
	require.NoError(t, err)
}

func TestRepository_GetMissingReport(t *testing.T) {
	env := newEnv(t)

	report, err := env.repo.Get(42)
	require.NoError(t, err)
	assert.Nil(t, report)
}
