package reports

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/events"
	"github.com/tradedesk/papertrader/internal/ledger"
	"github.com/tradedesk/papertrader/internal/modules/portfolio"
)

// TradeSource provides the trade history needed for FIFO attribution,
// implemented by the trading module's trade repository
type TradeSource interface {
	BySymbol(portfolioID int64, symbol string) ([]domain.Trade, error)
	TotalRealizedPnL(portfolioID int64) (decimal.Decimal, error)
}

// Service generates valuation snapshots
type Service struct {
	repo      *Repository
	summaries *portfolio.Service
	trades    TradeSource
	bus       *events.Bus
	log       zerolog.Logger
}

// NewService creates a reports service
func NewService(repo *Repository, summaries *portfolio.Service, trades TradeSource, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		summaries: summaries,
		trades:    trades,
		bus:       bus,
		log:       log.With().Str("service", "reports").Logger(),
	}
}

// Generate values the portfolio as of now and stores a snapshot under
// the given date, linking it to the previous report for a value delta.
// An empty date means today.
func (s *Service) Generate(ctx context.Context, portfolioID int64, date string) (*domain.Report, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	summary, err := s.summaries.Summarize(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	report := &domain.Report{
		PortfolioID:   portfolioID,
		ReportDate:    date,
		Cash:          summary.Portfolio.Cash,
		HoldingsValue: summary.HoldingsValue,
		TotalValue:    summary.TotalValue,
		RealizedPnL:   summary.RealizedPnL,
		UnrealizedPnL: summary.UnrealizedPnL,
		ValueChange:   decimal.Zero,
	}

	for _, h := range summary.Holdings {
		report.Holdings = append(report.Holdings, domain.ReportHolding{
			Symbol:        h.Symbol,
			Quantity:      h.Quantity,
			AvgPrice:      h.AvgPrice,
			MarketPrice:   h.MarketPrice,
			MarketValue:   h.MarketValue,
			UnrealizedPnL: h.UnrealizedPnL,
		})
	}

	prev, err := s.repo.GetLatest(portfolioID)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.ReportDate < date {
		report.PrevReportID = &prev.ID
		report.ValueChange = report.TotalValue.Sub(prev.TotalValue)
		if !prev.TotalValue.IsZero() {
			report.ValueChangePct = report.ValueChange.
				Div(prev.TotalValue).
				Mul(decimal.NewFromInt(100)).
				Round(4)
		}
	}

	if err := s.repo.Create(report); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("portfolio_id", portfolioID).
		Int64("report_id", report.ID).
		Str("report_date", date).
		Str("total_value", report.TotalValue.String()).
		Msg("Report generated")

	if s.bus != nil {
		s.bus.Publish("reports", events.ReportGenerated, &events.ReportGeneratedData{
			PortfolioID: portfolioID,
			ReportID:    report.ID,
			ReportDate:  date,
		})
	}

	return report, nil
}

// visibleTo loads the portfolio and applies the visibility rules. A
// portfolio the user may not see is reported as not found.
func (s *Service) visibleTo(userID, portfolioID int64, ownerOnly bool) error {
	p, err := s.summaries.Get(portfolioID)
	if err != nil {
		return err
	}
	if p == nil {
		return domain.ErrPortfolioNotFound
	}
	if ownerOnly && p.UserID != userID {
		return domain.ErrPortfolioNotFound
	}
	if !ownerOnly && !s.summaries.ViewableBy(p, userID) {
		return domain.ErrPortfolioNotFound
	}
	return nil
}

// GenerateForUser runs Generate after checking that the portfolio
// belongs to the requesting user. Snapshots mutate stored state, so
// public visibility is not enough here.
func (s *Service) GenerateForUser(ctx context.Context, userID, portfolioID int64, date string) (*domain.Report, error) {
	if err := s.visibleTo(userID, portfolioID, true); err != nil {
		return nil, err
	}
	return s.Generate(ctx, portfolioID, date)
}

// Attribution is the FIFO pnl breakdown for one symbol
type Attribution struct {
	Symbol    string            `json:"symbol"`
	Matchings []ledger.Matching `json:"matchings"`
	OpenLots  []ledger.Lot      `json:"open_lots"`
	TotalPnL  decimal.Decimal   `json:"total_pnl"`
}

// AttributeFIFO replays a symbol's trades through first-in-first-out lot
// matching, attributing each closed parcel to the opening trade that
// supplied it. This is a reporting view; it does not affect the stored
// weighted-average positions.
func (s *Service) AttributeFIFO(userID, portfolioID int64, symbol string) (*Attribution, error) {
	if err := s.visibleTo(userID, portfolioID, false); err != nil {
		return nil, err
	}

	trades, err := s.trades.BySymbol(portfolioID, symbol)
	if err != nil {
		return nil, err
	}

	ledgerTrades := make([]ledger.Trade, 0, len(trades))
	for _, t := range trades {
		ledgerTrades = append(ledgerTrades, ledger.Trade{
			Side:     ledger.Side(t.Side),
			Quantity: t.Quantity,
			Price:    t.Price,
		})
	}

	matchings, open := ledger.MatchFIFO(ledgerTrades)

	total := decimal.Zero
	for _, m := range matchings {
		total = total.Add(m.PnL)
	}

	return &Attribution{
		Symbol:    symbol,
		Matchings: matchings,
		OpenLots:  open,
		TotalPnL:  total,
	}, nil
}

// Get returns one report with holdings, applying the owning portfolio's
// visibility rules
func (s *Service) Get(userID, id int64) (*domain.Report, error) {
	report, err := s.repo.Get(id)
	if err != nil || report == nil {
		return report, err
	}
	if err := s.visibleTo(userID, report.PortfolioID, false); err != nil {
		return nil, err
	}
	return report, nil
}

// List returns a portfolio's reports newest first, applying the
// portfolio's visibility rules
func (s *Service) List(userID, portfolioID int64, limit int) ([]domain.Report, error) {
	if err := s.visibleTo(userID, portfolioID, false); err != nil {
		return nil, err
	}
	return s.repo.List(portfolioID, limit)
}

// ListForUser returns reports across all of the user's portfolios
func (s *Service) ListForUser(userID int64, limit int) ([]domain.Report, error) {
	return s.repo.ListByUser(userID, limit)
}
