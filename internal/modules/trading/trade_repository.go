// Package trading executes paper orders against portfolios and records
// them in the append-only trade ledger.
package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/ledger"
)

// TradeRepository handles trade rows in ledger.db. The table is
// append-only: no update or delete methods exist.
type TradeRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

const tradesColumns = `id, order_id, portfolio_id, symbol, side, quantity, price, realized_pnl, executed_at`

// NewTradeRepository creates a new trade repository
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "trade").Logger(),
	}
}

// Create appends a trade. Duplicate order IDs are silently skipped so a
// retried request cannot double-record.
func (r *TradeRepository) Create(trade domain.Trade) error {
	if trade.OrderID == "" {
		return fmt.Errorf("trade order_id is required")
	}

	exists, err := r.Exists(trade.OrderID)
	if err != nil {
		return fmt.Errorf("failed to check for existing trade: %w", err)
	}
	if exists {
		r.log.Debug().Str("order_id", trade.OrderID).Msg("Trade with order_id already exists, skipping duplicate")
		return nil
	}

	query := `
		INSERT INTO trades (order_id, portfolio_id, symbol, side, quantity, price, realized_pnl, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.ledgerDB.Exec(query,
		trade.OrderID,
		trade.PortfolioID,
		strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		trade.Side,
		trade.Quantity,
		trade.Price.String(),
		trade.RealizedPnL.String(),
		trade.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	r.log.Info().
		Str("order_id", trade.OrderID).
		Int64("portfolio_id", trade.PortfolioID).
		Str("symbol", trade.Symbol).
		Str("side", trade.Side).
		Int64("quantity", trade.Quantity).
		Msg("Trade recorded")

	return nil
}

// Exists checks whether a trade with the given order ID is recorded
func (r *TradeRepository) Exists(orderID string) (bool, error) {
	var one int
	err := r.ledgerDB.QueryRow("SELECT 1 FROM trades WHERE order_id = ? LIMIT 1", orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check trade existence: %w", err)
	}
	return true, nil
}

// History returns a portfolio's trades, most recent first
func (r *TradeRepository) History(portfolioID int64, limit int) ([]domain.Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		WHERE portfolio_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.ledgerDB.Query(query, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// HistoryBetween returns a portfolio's trades executed within the
// inclusive [from, to] date range (YYYY-MM-DD), most recent first
func (r *TradeRepository) HistoryBetween(portfolioID int64, from, to string, limit int) ([]domain.Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		WHERE portfolio_id = ?
			AND date(executed_at) >= date(?)
			AND date(executed_at) <= date(?)
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.ledgerDB.Query(query, portfolioID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history in range: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// Count returns the number of trades recorded for a portfolio
func (r *TradeRepository) Count(portfolioID int64) (int64, error) {
	var n int64
	err := r.ledgerDB.QueryRow("SELECT COUNT(*) FROM trades WHERE portfolio_id = ?", portfolioID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

// BySymbol returns all trades for one symbol in execution order, the
// order required for replaying position state
func (r *TradeRepository) BySymbol(portfolioID int64, symbol string) ([]domain.Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		WHERE portfolio_id = ? AND symbol = ?
		ORDER BY id ASC
	`

	rows, err := r.ledgerDB.Query(query, portfolioID, strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		return nil, fmt.Errorf("failed to get trades by symbol: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// TotalRealizedPnL sums realized pnl across a portfolio's trades
func (r *TradeRepository) TotalRealizedPnL(portfolioID int64) (decimal.Decimal, error) {
	rows, err := r.ledgerDB.Query("SELECT realized_pnl FROM trades WHERE portfolio_id = ?", portfolioID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var pnl string
		if err := rows.Scan(&pnl); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan realized pnl: %w", err)
		}
		d, err := decimal.NewFromString(pnl)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid realized_pnl %q: %w", pnl, err)
		}
		total = total.Add(d)
	}

	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating realized pnl: %w", err)
	}

	return total, nil
}

// ReplayPosition rebuilds the position for one symbol from the ledger.
// Used to verify stored positions and to serve FIFO attribution.
func (r *TradeRepository) ReplayPosition(portfolioID int64, symbol string) (ledger.Position, decimal.Decimal, error) {
	trades, err := r.BySymbol(portfolioID, symbol)
	if err != nil {
		return ledger.Position{}, decimal.Zero, err
	}

	ledgerTrades := make([]ledger.Trade, 0, len(trades))
	for _, t := range trades {
		ledgerTrades = append(ledgerTrades, ledger.Trade{
			Side:     ledger.Side(t.Side),
			Quantity: t.Quantity,
			Price:    t.Price,
		})
	}

	return ledger.Replay(ledgerTrades)
}

// Helper functions

func collectTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var price, realizedPnL string
		var executedAt sql.NullTime

		err := rows.Scan(
			&t.ID,
			&t.OrderID,
			&t.PortfolioID,
			&t.Symbol,
			&t.Side,
			&t.Quantity,
			&price,
			&realizedPnL,
			&executedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", price, err)
		}
		if t.RealizedPnL, err = decimal.NewFromString(realizedPnL); err != nil {
			return nil, fmt.Errorf("invalid realized_pnl %q: %w", realizedPnL, err)
		}
		if executedAt.Valid {
			t.ExecutedAt = executedAt.Time.UTC()
		} else {
			t.ExecutedAt = time.Time{}
		}

		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}
