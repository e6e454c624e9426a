package market

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/events"
)

// QuoteSource provides live prices. Implemented by clients/quotes.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]*domain.Quote, error)
}

// Service coordinates stock data, live quotes and price refreshes
type Service struct {
	stockRepo *StockRepository
	quotes    QuoteSource
	bus       *events.Bus
	log       zerolog.Logger
}

// NewService creates a market service. quotes may be nil when no quote
// source is configured; prices then come from the last stored value.
func NewService(stockRepo *StockRepository, quotes QuoteSource, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		stockRepo: stockRepo,
		quotes:    quotes,
		bus:       bus,
		log:       log.With().Str("service", "market").Logger(),
	}
}

// GetStock returns reference data for a symbol
func (s *Service) GetStock(symbol string) (*domain.Stock, error) {
	return s.stockRepo.Get(symbol)
}

// YearRange returns the 52 week low and high for a symbol
func (s *Service) YearRange(symbol string) (decimal.Decimal, decimal.Decimal, error) {
	return s.stockRepo.YearRange(symbol)
}

// ListStocks returns known stocks
func (s *Service) ListStocks(limit int) ([]domain.Stock, error) {
	return s.stockRepo.List(limit)
}

// SearchStocks finds stocks by symbol or name fragment
func (s *Service) SearchStocks(q string, limit int) ([]domain.Stock, error) {
	return s.stockRepo.Search(q, limit)
}

// GetBars returns recent daily bars for a symbol
func (s *Service) GetBars(symbol string, limit int) ([]domain.DailyBar, error) {
	return s.stockRepo.GetBars(symbol, limit)
}

// GetPrice resolves the current price for a symbol. It prefers a live
// quote and falls back to the last stored price when the quote source is
// unavailable. An unknown symbol with no stored price is an error.
func (s *Service) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if s.quotes != nil {
		quote, err := s.quotes.GetQuote(ctx, symbol)
		if err == nil {
			// Persist so the fallback path stays current
			if updateErr := s.stockRepo.UpdatePrice(symbol, quote.Price, quote.PrevClose); updateErr != nil {
				s.log.Warn().Err(updateErr).Str("symbol", symbol).Msg("Failed to store fetched price")
			}
			return quote.Price, nil
		}
		s.log.Debug().Err(err).Str("symbol", symbol).Msg("Quote fetch failed, falling back to stored price")
	}

	stock, err := s.stockRepo.Get(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if stock == nil {
		return decimal.Zero, fmt.Errorf("price for %s: %w", symbol, domain.ErrUnknownSymbol)
	}
	if stock.LastPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price for %s: %w", symbol, domain.ErrPriceUnavailable)
	}

	return stock.LastPrice, nil
}

// RefreshPrices fetches fresh quotes for every known symbol and stores
// them, publishing a PriceUpdated event with the refresh count.
func (s *Service) RefreshPrices(ctx context.Context) (int, error) {
	if s.quotes == nil {
		return 0, nil
	}

	symbols, err := s.stockRepo.Symbols()
	if err != nil {
		return 0, fmt.Errorf("failed to list symbols for refresh: %w", err)
	}
	if len(symbols) == 0 {
		return 0, nil
	}

	quotes, err := s.quotes.GetQuotes(ctx, symbols)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch quotes: %w", err)
	}

	updated := 0
	for symbol, quote := range quotes {
		if err := s.stockRepo.UpdatePrice(symbol, quote.Price, quote.PrevClose); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to store refreshed price")
			continue
		}
		updated++
	}

	s.log.Info().
		Int("symbols", len(symbols)).
		Int("updated", updated).
		Msg("Price refresh complete")

	if s.bus != nil && updated > 0 {
		s.bus.Publish("market", events.PriceUpdated, &events.PriceUpdatedData{Count: updated})
	}

	return updated, nil
}
