package trading

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

// fakeMarket serves as both price source and stock checker
type fakeMarket struct {
	prices map[string]decimal.Decimal
}

func (f *fakeMarket) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if p, ok := f.prices[symbol]; ok {
		return p, nil
	}
	return decimal.Zero, domain.ErrPriceUnavailable
}

func (f *fakeMarket) GetStock(symbol string) (*domain.Stock, error) {
	if _, ok := f.prices[symbol]; ok {
		return &domain.Stock{Symbol: symbol, Name: symbol}, nil
	}
	return nil, nil
}

type testEnv struct {
	service       *Service
	tradeRepo     *TradeRepository
	portfolioRepo *portfolio.PortfolioRepository
	positionRepo  *portfolio.PositionRepository
	market        *fakeMarket
	portfolioDB   *sql.DB
}

func newTestEnv(t *testing.T, allowShort bool) *testEnv {
	t.Helper()

	portfolioDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { portfolioDB.Close() })

	_, err = portfolioDB.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE portfolios (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
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
	`)
	require.NoError(t, err)

	ledgerDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledgerDB.Close() })

	_, err = ledgerDB.Exec(`
		CREATE TABLE trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL UNIQUE,
			portfolio_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price TEXT NOT NULL,
			realized_pnl TEXT NOT NULL DEFAULT '0',
			executed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	require.NoError(t, err)

	log := zerolog.Nop()
	portfolioRepo := portfolio.NewPortfolioRepository(portfolioDB, log)
	positionRepo := portfolio.NewPositionRepository(portfolioDB, log)
	tradeRepo := NewTradeRepository(ledgerDB, log)
	market := &fakeMarket{prices: map[string]decimal.Decimal{
		"INFY": dec("100"),
		"TCS":  dec("50"),
	}}

	service := NewService(
		tradeRepo, portfolioRepo, positionRepo,
		market, market, nil,
		Config{AllowShort: allowShort},
		log,
	)

	return &testEnv{
		service:       service,
		tradeRepo:     tradeRepo,
		portfolioRepo: portfolioRepo,
		positionRepo:  positionRepo,
		market:        market,
		portfolioDB:   portfolioDB,
	}
}

// addUser creates a user with a single active portfolio and returns both IDs
func (e *testEnv) addUser(t *testing.T, username, cash string) (int64, int64) {
	t.Helper()

	res, err := e.portfolioDB.Exec("INSERT INTO users (username) VALUES (?)", username)
	require.NoError(t, err)
	userID, err := res.LastInsertId()
	require.NoError(t, err)

	p, err := e.portfolioRepo.Create(userID, "Default", domain.VisibilityPrivate, dec(cash))
	require.NoError(t, err)
	return userID, p.ID
}

func (e *testEnv) cash(t *testing.T, portfolioID int64) decimal.Decimal {
	t.Helper()
	p, err := e.portfolioRepo.Get(portfolioID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Cash
}

func TestExecuteOrder_BuyThenPartialSell(t *testing.T) {
	env := newTestEnv(t, false)
	userID, portfolioID := env.addUser(t, "alice", "10000")
	ctx := context.Background()

	buy, err := env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "BUY", Quantity: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, buy.OrderID)
	assert.Equal(t, portfolioID, buy.PortfolioID)
	assert.True(t, buy.GrossValue.Equal(dec("1000")))
	assert.True(t, buy.CashAfter.Equal(dec("9000")))
	assert.Equal(t, int64(10), buy.Position.Quantity)
	assert.True(t, buy.Position.AvgPrice.Equal(dec("100")))

	sell, err := env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "infy", Side: "sell", Quantity: 4, Price: dec("150"),
	})
	require.NoError(t, err)
	assert.True(t, sell.RealizedPnL.Equal(dec("200")), "pnl was %s", sell.RealizedPnL)
	assert.True(t, sell.CashAfter.Equal(dec("9600")))
	assert.Equal(t, int64(6), sell.Position.Quantity)
	assert.True(t, sell.Position.AvgPrice.Equal(dec("100")), "partial sell keeps average")

	assert.True(t, env.cash(t, portfolioID).Equal(dec("9600")))

	history, err := env.service.History(HistoryQuery{UserID: userID, PortfolioID: portfolioID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Stored position agrees with replaying the ledger
	replayed, _, err := env.tradeRepo.ReplayPosition(portfolioID, "INFY")
	require.NoError(t, err)
	stored, err := env.positionRepo.Get(portfolioID, "INFY")
	require.NoError(t, err)
	assert.Equal(t, replayed.Quantity, stored.Quantity)
	assert.True(t, replayed.AvgPrice.Equal(stored.AvgPrice))
}

func TestExecuteOrder_InsufficientFundsRollsBack(t *testing.T) {
	env := newTestEnv(t, false)
	userID, portfolioID := env.addUser(t, "bob", "500")
	ctx := context.Background()

	_, err := env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "BUY", Quantity: 10,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.True(t, env.cash(t, portfolioID).Equal(dec("500")), "cash untouched")

	pos, err := env.positionRepo.Get(portfolioID, "INFY")
	require.NoError(t, err)
	assert.True(t, pos.Flat())

	history, err := env.service.History(HistoryQuery{UserID: userID, PortfolioID: portfolioID, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistory_DateRangeAndOwnership(t *testing.T) {
	env := newTestEnv(t, false)
	userID, portfolioID := env.addUser(t, "dave", "10000")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.service.ExecuteOrder(ctx, OrderRequest{
			UserID: userID, Symbol: "INFY", Side: "BUY", Quantity: 1,
		})
		require.NoError(t, err)
	}

	history, err := env.service.History(HistoryQuery{
		UserID: userID, PortfolioID: portfolioID,
		From: "2000-01-01", To: "2100-01-01", Limit: 10,
	})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	history, err = env.service.History(HistoryQuery{
		UserID: userID, PortfolioID: portfolioID,
		From: "2100-01-01", Limit: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = env.service.History(HistoryQuery{
		UserID: userID + 1, PortfolioID: portfolioID, Limit: 10,
	})
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)

	count, err := env.tradeRepo.Count(portfolioID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestExecuteOrder_SellBeyondHeldRejectedWhenShortingOff(t *testing.T) {
	env := newTestEnv(t, false)
	userID, _ := env.addUser(t, "carol", "10000")
	ctx := context.Background()

	_, err := env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "BUY", Quantity: 5,
	})
	require.NoError(t, err)

	_, err = env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "SELL", Quantity: 8,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestExecuteOrder_ShortingEnabledOpensShort(t *testing.T) {
	env := newTestEnv(t, true)
	userID, portfolioID := env.addUser(t, "dave", "1000")
	ctx := context.Background()

	result, err := env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "TCS", Side: "SELL", Quantity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-5), result.Position.Quantity)
	assert.True(t, result.CashAfter.Equal(dec("1250")), "short sale proceeds credited")

	assert.True(t, env.cash(t, portfolioID).Equal(dec("1250")))
}

func TestExecuteOrder_ExactCloseRemovesPosition(t *testing.T) {
	env := newTestEnv(t, false)
	userID, portfolioID := env.addUser(t, "erin", "10000")
	ctx := context.Background()

	_, err := env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "BUY", Quantity: 10,
	})
	require.NoError(t, err)

	result, err := env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "SELL", Quantity: 10, Price: dec("110"),
	})
	require.NoError(t, err)
	assert.True(t, result.Position.Flat())
	assert.True(t, result.RealizedPnL.Equal(dec("100")))

	positions, err := env.positionRepo.List(portfolioID)
	require.NoError(t, err)
	assert.Empty(t, positions, "flat position row removed")
}

func TestExecuteOrder_UnknownSymbol(t *testing.T) {
	env := newTestEnv(t, false)
	userID, _ := env.addUser(t, "frank", "10000")

	_, err := env.service.ExecuteOrder(context.Background(), OrderRequest{
		UserID: userID, Symbol: "NOPE", Side: "BUY", Quantity: 1,
	})
	require.ErrorIs(t, err, domain.ErrUnknownSymbol)
}

func TestExecuteOrder_ForeignPortfolioRejected(t *testing.T) {
	env := newTestEnv(t, false)
	_, alicePortfolio := env.addUser(t, "alice", "10000")
	bobID, _ := env.addUser(t, "bob", "10000")

	_, err := env.service.ExecuteOrder(context.Background(), OrderRequest{
		UserID: bobID, PortfolioID: alicePortfolio, Symbol: "INFY", Side: "BUY", Quantity: 1,
	})
	require.ErrorIs(t, err, domain.ErrPortfolioNotFound)
}

func TestExecuteOrder_NoActivePortfolio(t *testing.T) {
	env := newTestEnv(t, false)

	res, err := env.portfolioDB.Exec("INSERT INTO users (username) VALUES ('ghost')")
	require.NoError(t, err)
	userID, err := res.LastInsertId()
	require.NoError(t, err)

	_, err = env.service.ExecuteOrder(context.Background(), OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "BUY", Quantity: 1,
	})
	require.ErrorIs(t, err, domain.ErrNoActivePortfolio)
}

func TestPreviewOrder_WritesNothing(t *testing.T) {
	env := newTestEnv(t, false)
	userID, portfolioID := env.addUser(t, "grace", "10000")

	preview, err := env.service.PreviewOrder(context.Background(), OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "BUY", Quantity: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, preview.OrderID)
	assert.True(t, preview.CashAfter.Equal(dec("9000")))
	assert.Equal(t, int64(10), preview.Position.Quantity)

	assert.True(t, env.cash(t, portfolioID).Equal(dec("10000")))

	history, err := env.service.History(HistoryQuery{UserID: userID, PortfolioID: portfolioID, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPreviewOrder_ReportsPolicyErrors(t *testing.T) {
	env := newTestEnv(t, false)
	userID, _ := env.addUser(t, "heidi", "100")

	_, err := env.service.PreviewOrder(context.Background(), OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "BUY", Quantity: 10,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = env.service.PreviewOrder(context.Background(), OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "SELL", Quantity: 1,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestSellFlipsToShortWhenAllowed(t *testing.T) {
	env := newTestEnv(t, true)
	userID, _ := env.addUser(t, "ivan", "10000")
	ctx := context.Background()

	_, err := env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "BUY", Quantity: 5,
	})
	require.NoError(t, err)

	result, err := env.service.ExecuteOrder(ctx, OrderRequest{
		UserID: userID, Symbol: "INFY", Side: "SELL", Quantity: 8, Price: dec("120"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), result.Position.Quantity)
	assert.True(t, result.Position.AvgPrice.Equal(dec("120")), "flip opens at trade price")
	assert.True(t, result.RealizedPnL.Equal(dec("100")), "closed 5 at +20 each")
}
