// Package quotes provides an HTTP client for fetching live stock quotes.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
)

// Client fetches quotes from an NSE-style quote API
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a quote API client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "quotes").Logger(),
	}
}

// quoteResponse mirrors the upstream payload. Providers disagree on the
// field name for the traded price, so every known spelling is captured
// and resolved in price().
type quoteResponse struct {
	Symbol          string   `json:"symbol"`
	LastTradedPrice *float64 `json:"lastTradedPrice"`
	LTP             *float64 `json:"ltp"`
	LastPrice       *float64 `json:"lastPrice"`
	PreviousClose   *float64 `json:"previousClose"`
	PrevClose       *float64 `json:"prevClose"`
}

func (r *quoteResponse) price() (float64, bool) {
	for _, p := range []*float64{r.LastTradedPrice, r.LTP, r.LastPrice} {
		if p != nil && *p > 0 {
			return *p, true
		}
	}
	return 0, false
}

func (r *quoteResponse) previousClose() float64 {
	for _, p := range []*float64{r.PreviousClose, r.PrevClose} {
		if p != nil && *p > 0 {
			return *p
		}
	}
	return 0
}

// GetQuote fetches the current quote for a symbol
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	reqURL := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("quote for %s: %w", symbol, domain.ErrUnknownSymbol)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote API returned status %d for %s", resp.StatusCode, symbol)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse quote response for %s: %w", symbol, err)
	}

	price, ok := body.price()
	if !ok {
		c.log.Warn().Str("symbol", symbol).Msg("Quote response carried no usable price field")
		return nil, fmt.Errorf("quote for %s: %w", symbol, domain.ErrPriceUnavailable)
	}

	quote := &domain.Quote{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		PrevClose: decimal.NewFromFloat(body.previousClose()),
		AsOf:      time.Now().UTC(),
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("price", quote.Price.String()).
		Msg("Quote fetched")

	return quote, nil
}

// GetQuotes fetches quotes for multiple symbols, skipping the ones that
// fail. The returned map only contains symbols that resolved.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]*domain.Quote, error) {
	out := make(map[string]*domain.Quote, len(symbols))

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		quote, err := c.GetQuote(ctx, symbol)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Skipping symbol in batch quote fetch")
			continue
		}
		out[symbol] = quote
	}

	return out, nil
}
