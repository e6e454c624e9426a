package portfolio

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/ledger"
)

// PriceSource resolves current prices, implemented by the market service
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// RealizedPnLSource reports accumulated realized pnl per portfolio,
// implemented by the trading module's trade repository
type RealizedPnLSource interface {
	TotalRealizedPnL(portfolioID int64) (decimal.Decimal, error)
}

// Service provides portfolio valuation on top of the repositories
type Service struct {
	portfolioRepo *PortfolioRepository
	positionRepo  *PositionRepository
	prices        PriceSource
	realized      RealizedPnLSource
	log           zerolog.Logger
}

// NewService creates a portfolio service
func NewService(
	portfolioRepo *PortfolioRepository,
	positionRepo *PositionRepository,
	prices PriceSource,
	realized RealizedPnLSource,
	log zerolog.Logger,
) *Service {
	return &Service{
		portfolioRepo: portfolioRepo,
		positionRepo:  positionRepo,
		prices:        prices,
		realized:      realized,
		log:           log.With().Str("service", "portfolio").Logger(),
	}
}

// Holding is one valued position in a summary
type Holding struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	PriceKnown    bool            `json:"price_known"`
}

// Summary is a full valuation of one portfolio. OverallPnL measures the
// total value against the cash the portfolio started with.
type Summary struct {
	Portfolio     domain.Portfolio `json:"portfolio"`
	Holdings      []Holding        `json:"holdings"`
	HoldingsValue decimal.Decimal  `json:"holdings_value"`
	TotalValue    decimal.Decimal  `json:"total_value"`
	RealizedPnL   decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	OverallPnL    decimal.Decimal  `json:"overall_pnl"`
	OverallPnLPct decimal.Decimal  `json:"overall_pnl_pct"`
}

// Summarize values every open position at current prices. Positions with
// no resolvable price are valued at their cost basis and flagged.
func (s *Service) Summarize(ctx context.Context, portfolioID int64) (*Summary, error) {
	p, err := s.portfolioRepo.Get(portfolioID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPortfolioNotFound
	}

	positions, err := s.positionRepo.List(portfolioID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Portfolio:     *p,
		Holdings:      make([]Holding, 0, len(positions)),
		HoldingsValue: decimal.Zero,
		UnrealizedPnL: decimal.Zero,
	}

	for _, stored := range positions {
		pos := ledger.Position{Quantity: stored.Quantity, AvgPrice: stored.AvgPrice}

		holding := Holding{
			Symbol:   stored.Symbol,
			Quantity: stored.Quantity,
			AvgPrice: stored.AvgPrice,
		}

		price, err := s.prices.GetPrice(ctx, stored.Symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", stored.Symbol).Msg("No price for position, valuing at cost")
			price = stored.AvgPrice
		} else {
			holding.PriceKnown = true
		}

		holding.MarketPrice = price
		holding.MarketValue = pos.MarketValue(price)
		holding.UnrealizedPnL = pos.UnrealizedPnL(price)

		summary.Holdings = append(summary.Holdings, holding)
		summary.HoldingsValue = summary.HoldingsValue.Add(holding.MarketValue)
		summary.UnrealizedPnL = summary.UnrealizedPnL.Add(holding.UnrealizedPnL)
	}

	summary.TotalValue = p.Cash.Add(summary.HoldingsValue)
	summary.OverallPnL = summary.TotalValue.Sub(p.InitialCash)
	if !p.InitialCash.IsZero() {
		summary.OverallPnLPct = summary.OverallPnL.
			Div(p.InitialCash).
			Mul(decimal.NewFromInt(100)).
			Round(4)
	}

	if s.realized != nil {
		realized, err := s.realized.TotalRealizedPnL(portfolioID)
		if err != nil {
			return nil, fmt.Errorf("failed to get realized pnl: %w", err)
		}
		summary.RealizedPnL = realized
	}

	return summary, nil
}

// Get returns a portfolio by id. Returns nil when unknown.
func (s *Service) Get(id int64) (*domain.Portfolio, error) {
	return s.portfolioRepo.Get(id)
}

// ViewableBy reports whether a user may view the portfolio: owners see
// everything, others only public portfolios.
func (s *Service) ViewableBy(p *domain.Portfolio, userID int64) bool {
	if p == nil {
		return false
	}
	return p.UserID == userID || p.Visibility == domain.VisibilityPublic
}
