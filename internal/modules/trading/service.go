package trading

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/database"
	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/events"
	"github.com/tradedesk/papertrader/internal/ledger"
	"github.com/tradedesk/papertrader/internal/modules/portfolio"
)

// PriceSource resolves current prices for order execution
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StockChecker verifies that a symbol exists before an order runs
type StockChecker interface {
	GetStock(symbol string) (*domain.Stock, error)
}

// Config holds trading policy knobs
type Config struct {
	// AllowShort permits sells beyond the held quantity, opening short
	// positions, and buys into negative cash territory is still refused
	AllowShort bool
}

// Service executes paper orders
type Service struct {
	tradeRepo     *TradeRepository
	portfolioRepo *portfolio.PortfolioRepository
	positionRepo  *portfolio.PositionRepository
	prices        PriceSource
	stocks        StockChecker
	bus           *events.Bus
	cfg           Config
	log           zerolog.Logger
}

// NewService creates a trading service
func NewService(
	tradeRepo *TradeRepository,
	portfolioRepo *portfolio.PortfolioRepository,
	positionRepo *portfolio.PositionRepository,
	prices PriceSource,
	stocks StockChecker,
	bus *events.Bus,
	cfg Config,
	log zerolog.Logger,
) *Service {
	return &Service{
		tradeRepo:     tradeRepo,
		portfolioRepo: portfolioRepo,
		positionRepo:  positionRepo,
		prices:        prices,
		stocks:        stocks,
		bus:           bus,
		cfg:           cfg,
		log:           log.With().Str("service", "trading").Logger(),
	}
}

// OrderRequest describes an order to execute or preview
type OrderRequest struct {
	UserID      int64
	PortfolioID int64 // 0 means the user's active portfolio
	Symbol      string
	Side        string
	Quantity    int64
	// Price overrides the market price when positive, for limit-style
	// fills and testing
	Price decimal.Decimal
}

// OrderResult is the outcome of an executed or previewed order
type OrderResult struct {
	OrderID     string          `json:"order_id,omitempty"`
	PortfolioID int64           `json:"portfolio_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	GrossValue  decimal.Decimal `json:"gross_value"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	CashAfter   decimal.Decimal `json:"cash_after"`
	Position    ledger.Position `json:"position"`
	ExecutedAt  *time.Time      `json:"executed_at,omitempty"`
}

// ExecuteOrder runs the full order workflow: resolve the portfolio and
// price, apply policy checks, update position and cash atomically, and
// append the trade to the ledger.
func (s *Service) ExecuteOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	p, trade, price, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	executedAt := time.Now().UTC()
	result := &OrderResult{
		OrderID:     orderID,
		PortfolioID: p.ID,
		Symbol:      trade.symbol,
		Side:        string(trade.ledgerTrade.Side),
		Quantity:    trade.ledgerTrade.Quantity,
		Price:       price,
		GrossValue:  price.Mul(decimal.NewFromInt(trade.ledgerTrade.Quantity)),
		ExecutedAt:  &executedAt,
	}

	err = database.WithTransaction(s.portfolioRepo.DB(), func(tx *sql.Tx) error {
		pos, err := s.positionRepo.GetTx(tx, p.ID, trade.symbol)
		if err != nil {
			return err
		}

		newPos, pnl, cashAfter, err := s.settle(tx, p.ID, pos, trade.ledgerTrade)
		if err != nil {
			return err
		}

		if err := s.positionRepo.SetTx(tx, p.ID, trade.symbol, newPos); err != nil {
			return err
		}

		// Last step inside the transaction: a ledger append failure rolls
		// back the position and cash changes
		if err := s.tradeRepo.Create(domain.Trade{
			OrderID:     orderID,
			PortfolioID: p.ID,
			Symbol:      trade.symbol,
			Side:        string(trade.ledgerTrade.Side),
			Quantity:    trade.ledgerTrade.Quantity,
			Price:       price,
			RealizedPnL: pnl,
			ExecutedAt:  executedAt,
		}); err != nil {
			return err
		}

		result.RealizedPnL = pnl
		result.CashAfter = cashAfter
		result.Position = newPos
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Int64("portfolio_id", p.ID).
		Str("symbol", trade.symbol).
		Str("side", result.Side).
		Int64("quantity", result.Quantity).
		Str("price", price.String()).
		Str("realized_pnl", result.RealizedPnL.String()).
		Msg("Order executed")

	if s.bus != nil {
		s.bus.Publish("trading", events.TradeExecuted, &events.TradeExecutedData{
			OrderID:     orderID,
			PortfolioID: p.ID,
			Symbol:      trade.symbol,
			Side:        result.Side,
			Quantity:    result.Quantity,
			Price:       price.String(),
			RealizedPnL: result.RealizedPnL.String(),
		})
		s.bus.Publish("trading", events.PortfolioChanged, &events.PortfolioChangedData{
			PortfolioID: p.ID,
			Reason:      "trade",
		})
	}

	return result, nil
}

// PreviewOrder runs the same resolution and policy checks as
// ExecuteOrder without writing anything, returning the would-be outcome.
func (s *Service) PreviewOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	p, trade, price, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	pos, err := s.positionRepo.Get(p.ID, trade.symbol)
	if err != nil {
		return nil, err
	}

	newPos, pnl, err := ledger.Apply(pos, trade.ledgerTrade)
	if err != nil {
		return nil, err
	}

	if err := s.checkPolicy(pos, newPos, trade.ledgerTrade); err != nil {
		return nil, err
	}

	cashAfter := p.Cash.Add(cashDelta(trade.ledgerTrade, price))
	if cashAfter.Sign() < 0 {
		return nil, domain.ErrInsufficientFunds
	}

	return &OrderResult{
		PortfolioID: p.ID,
		Symbol:      trade.symbol,
		Side:        string(trade.ledgerTrade.Side),
		Quantity:    trade.ledgerTrade.Quantity,
		Price:       price,
		GrossValue:  price.Mul(decimal.NewFromInt(trade.ledgerTrade.Quantity)),
		RealizedPnL: pnl,
		CashAfter:   cashAfter,
		Position:    newPos,
	}, nil
}

// HistoryQuery bounds a trade history lookup. From and To are optional
// inclusive YYYY-MM-DD dates.
type HistoryQuery struct {
	UserID      int64
	PortfolioID int64
	From        string
	To          string
	Limit       int
}

// History returns recent trades for a portfolio owned by the requesting
// user, optionally bounded to a date range
func (s *Service) History(q HistoryQuery) ([]domain.Trade, error) {
	p, err := s.portfolioRepo.Get(q.PortfolioID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.UserID != q.UserID {
		return nil, domain.ErrPortfolioNotFound
	}

	if q.From != "" || q.To != "" {
		from, to := q.From, q.To
		if from == "" {
			from = "0001-01-01"
		}
		if to == "" {
			to = "9999-12-31"
		}
		return s.tradeRepo.HistoryBetween(q.PortfolioID, from, to, q.Limit)
	}

	return s.tradeRepo.History(q.PortfolioID, q.Limit)
}

// preparedOrder carries the validated pieces of an order
type preparedOrder struct {
	symbol      string
	ledgerTrade ledger.Trade
}

func (s *Service) prepare(ctx context.Context, req OrderRequest) (*domain.Portfolio, *preparedOrder, decimal.Decimal, error) {
	p, err := s.resolvePortfolio(req)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, nil, decimal.Zero, fmt.Errorf("symbol is required")
	}

	stock, err := s.stocks.GetStock(symbol)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	if stock == nil {
		return nil, nil, decimal.Zero, fmt.Errorf("order for %s: %w", symbol, domain.ErrUnknownSymbol)
	}

	price := req.Price
	if price.Sign() <= 0 {
		price, err = s.prices.GetPrice(ctx, symbol)
		if err != nil {
			return nil, nil, decimal.Zero, err
		}
	}

	trade := ledger.Trade{
		Side:     ledger.Side(strings.ToUpper(strings.TrimSpace(req.Side))),
		Quantity: req.Quantity,
		Price:    price,
	}
	if err := trade.Validate(); err != nil {
		return nil, nil, decimal.Zero, err
	}

	return p, &preparedOrder{symbol: symbol, ledgerTrade: trade}, price, nil
}

func (s *Service) resolvePortfolio(req OrderRequest) (*domain.Portfolio, error) {
	if req.PortfolioID != 0 {
		p, err := s.portfolioRepo.Get(req.PortfolioID)
		if err != nil {
			return nil, err
		}
		if p == nil || p.UserID != req.UserID {
			return nil, domain.ErrPortfolioNotFound
		}
		return p, nil
	}

	p, err := s.portfolioRepo.GetActive(req.UserID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrNoActivePortfolio
	}
	return p, nil
}

// settle applies the trade to position and cash inside the transaction,
// enforcing funds and shorting policy against the balances read there
func (s *Service) settle(tx *sql.Tx, portfolioID int64, pos ledger.Position, t ledger.Trade) (ledger.Position, decimal.Decimal, decimal.Decimal, error) {
	newPos, pnl, err := ledger.Apply(pos, t)
	if err != nil {
		return pos, decimal.Zero, decimal.Zero, err
	}

	if err := s.checkPolicy(pos, newPos, t); err != nil {
		return pos, decimal.Zero, decimal.Zero, err
	}

	cash, err := s.portfolioRepo.GetCash(tx, portfolioID)
	if err != nil {
		return pos, decimal.Zero, decimal.Zero, err
	}

	cashAfter := cash.Add(cashDelta(t, t.Price))
	if cashAfter.Sign() < 0 {
		return pos, decimal.Zero, decimal.Zero, domain.ErrInsufficientFunds
	}

	if err := s.portfolioRepo.SetCash(tx, portfolioID, cashAfter); err != nil {
		return pos, decimal.Zero, decimal.Zero, err
	}

	return newPos, pnl, cashAfter, nil
}

func (s *Service) checkPolicy(oldPos, newPos ledger.Position, t ledger.Trade) error {
	if s.cfg.AllowShort || !newPos.Short() {
		return nil
	}
	if t.Side == ledger.SideSell {
		return fmt.Errorf("selling %d with %d held: %w", t.Quantity, max64(oldPos.Quantity, 0), domain.ErrInsufficientShares)
	}
	return domain.ErrShortingDisabled
}

// cashDelta is the signed cash movement of a trade: buys consume cash,
// sells produce it
func cashDelta(t ledger.Trade, price decimal.Decimal) decimal.Decimal {
	gross := price.Mul(decimal.NewFromInt(t.Quantity))
	if t.Side == ledger.SideBuy {
		return gross.Neg()
	}
	return gross
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
