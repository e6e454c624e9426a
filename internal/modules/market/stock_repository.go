// Package market provides stock reference data, price quotes and
// historical bar imports.
package market

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
)

// StockRepository handles stock database operations against market.db
type StockRepository struct {
	marketDB *sql.DB
	log      zerolog.Logger
}

// stocksColumns is the column list for the stocks table, kept in sync
// with scanStock
const stocksColumns = `symbol, name, exchange, sector, last_price, prev_close, day_low, day_high, updated_at`

// NewStockRepository creates a new stock repository
func NewStockRepository(marketDB *sql.DB, log zerolog.Logger) *StockRepository {
	return &StockRepository{
		marketDB: marketDB,
		log:      log.With().Str("repo", "stock").Logger(),
	}
}

// Upsert inserts or updates a stock by symbol
func (r *StockRepository) Upsert(stock domain.Stock) error {
	symbol := normalizeSymbol(stock.Symbol)
	if symbol == "" {
		return fmt.Errorf("stock symbol is required")
	}

	query := `
		INSERT INTO stocks (symbol, name, exchange, sector, last_price, prev_close, day_low, day_high, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE stocks.name END,
			exchange = excluded.exchange,
			sector = CASE WHEN excluded.sector != '' THEN excluded.sector ELSE stocks.sector END,
			last_price = excluded.last_price,
			prev_close = excluded.prev_close,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.marketDB.Exec(query,
		symbol,
		stock.Name,
		stock.Exchange,
		stock.Sector,
		stock.LastPrice.String(),
		stock.PrevClose.String(),
		stock.LastPrice.String(),
		stock.LastPrice.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stock %s: %w", symbol, err)
	}

	return nil
}

// Get retrieves a stock by symbol. Returns nil when the symbol is unknown.
func (r *StockRepository) Get(symbol string) (*domain.Stock, error) {
	query := "SELECT " + stocksColumns + " FROM stocks WHERE symbol = ?"

	row := r.marketDB.QueryRow(query, normalizeSymbol(symbol))
	stock, err := scanStock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock %s: %w", symbol, err)
	}

	return &stock, nil
}

// List returns stocks ordered by symbol
func (r *StockRepository) List(limit int) ([]domain.Stock, error) {
	query := "SELECT " + stocksColumns + " FROM stocks ORDER BY symbol LIMIT ?"

	rows, err := r.marketDB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	defer rows.Close()

	return collectStocks(rows)
}

// Search finds stocks whose symbol or name matches the query
func (r *StockRepository) Search(q string, limit int) ([]domain.Stock, error) {
	pattern := "%" + strings.TrimSpace(q) + "%"

	query := `
		SELECT ` + stocksColumns + ` FROM stocks
		WHERE symbol LIKE ? OR name LIKE ?
		ORDER BY symbol
		LIMIT ?
	`

	rows, err := r.marketDB.Query(query, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search stocks: %w", err)
	}
	defer rows.Close()

	return collectStocks(rows)
}

// Symbols returns every known symbol
func (r *StockRepository) Symbols() ([]string, error) {
	rows, err := r.marketDB.Query("SELECT symbol FROM stocks ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}

	return symbols, nil
}

// UpdatePrice sets the latest price for a symbol and widens the day
// range when the new price trades outside of it.
func (r *StockRepository) UpdatePrice(symbol string, price, prevClose decimal.Decimal) error {
	query := `
		UPDATE stocks
		SET last_price = ?,
			prev_close = ?,
			day_low = CASE
				WHEN CAST(day_low AS REAL) = 0 OR CAST(? AS REAL) < CAST(day_low AS REAL)
				THEN ? ELSE day_low
			END,
			day_high = CASE
				WHEN CAST(? AS REAL) > CAST(day_high AS REAL)
				THEN ? ELSE day_high
			END,
			updated_at = CURRENT_TIMESTAMP
		WHERE symbol = ?
	`

	p := price.String()
	res, err := r.marketDB.Exec(query, p, prevClose.String(), p, p, p, p, normalizeSymbol(symbol))
	if err != nil {
		return fmt.Errorf("failed to update price for %s: %w", symbol, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check price update for %s: %w", symbol, err)
	}
	if affected == 0 {
		return fmt.Errorf("update price for %s: %w", symbol, domain.ErrUnknownSymbol)
	}

	return nil
}

// YearRange returns the 52 week low and high for a symbol from stored
// daily bars. Zeroes when no bars exist.
func (r *StockRepository) YearRange(symbol string) (decimal.Decimal, decimal.Decimal, error) {
	var low, high sql.NullFloat64
	err := r.marketDB.QueryRow(`
		SELECT MIN(CAST(low AS REAL)), MAX(CAST(high AS REAL))
		FROM daily_bars
		WHERE symbol = ? AND trade_date >= date('now', '-365 days')
	`, normalizeSymbol(symbol)).Scan(&low, &high)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to get year range for %s: %w", symbol, err)
	}
	if !low.Valid || !high.Valid {
		return decimal.Zero, decimal.Zero, nil
	}

	return decimal.NewFromFloat(low.Float64), decimal.NewFromFloat(high.Float64), nil
}

// SaveBar stores one daily OHLCV bar, replacing any existing bar for the
// same symbol and date
func (r *StockRepository) SaveBar(bar domain.DailyBar) error {
	query := `
		INSERT OR REPLACE INTO daily_bars
		(symbol, trade_date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.marketDB.Exec(query,
		normalizeSymbol(bar.Symbol),
		bar.TradeDate,
		bar.Open.String(),
		bar.High.String(),
		bar.Low.String(),
		bar.Close.String(),
		bar.Volume,
	)
	if err != nil {
		return fmt.Errorf("failed to save bar for %s on %s: %w", bar.Symbol, bar.TradeDate, err)
	}

	return nil
}

// GetBars returns the most recent daily bars for a symbol, newest first
func (r *StockRepository) GetBars(symbol string, limit int) ([]domain.DailyBar, error) {
	query := `
		SELECT symbol, trade_date, open, high, low, close, volume
		FROM daily_bars
		WHERE symbol = ?
		ORDER BY trade_date DESC
		LIMIT ?
	`

	rows, err := r.marketDB.Query(query, normalizeSymbol(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var bar domain.DailyBar
		var open, high, low, closePrice string

		if err := rows.Scan(&bar.Symbol, &bar.TradeDate, &open, &high, &low, &closePrice, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}

		if bar.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("invalid open price %q: %w", open, err)
		}
		if bar.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("invalid high price %q: %w", high, err)
		}
		if bar.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("invalid low price %q: %w", low, err)
		}
		if bar.Close, err = decimal.NewFromString(closePrice); err != nil {
			return nil, fmt.Errorf("invalid close price %q: %w", closePrice, err)
		}

		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}

// RecordImport writes an audit row for a processed CSV file
func (r *StockRepository) RecordImport(filename string, imported, skipped int) error {
	query := `
		INSERT INTO quote_imports (filename, rows_imported, rows_skipped)
		VALUES (?, ?, ?)
	`

	if _, err := r.marketDB.Exec(query, filename, imported, skipped); err != nil {
		return fmt.Errorf("failed to record import of %s: %w", filename, err)
	}

	return nil
}

// Helper functions

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStock(row rowScanner) (domain.Stock, error) {
	var stock domain.Stock
	var lastPrice, prevClose, dayLow, dayHigh string
	var updatedAt sql.NullTime

	err := row.Scan(
		&stock.Symbol,
		&stock.Name,
		&stock.Exchange,
		&stock.Sector,
		&lastPrice,
		&prevClose,
		&dayLow,
		&dayHigh,
		&updatedAt,
	)
	if err != nil {
		return stock, err
	}

	if stock.LastPrice, err = decimal.NewFromString(lastPrice); err != nil {
		return stock, fmt.Errorf("invalid last_price %q: %w", lastPrice, err)
	}
	if stock.PrevClose, err = decimal.NewFromString(prevClose); err != nil {
		return stock, fmt.Errorf("invalid prev_close %q: %w", prevClose, err)
	}
	if stock.DayLow, err = decimal.NewFromString(dayLow); err != nil {
		return stock, fmt.Errorf("invalid day_low %q: %w", dayLow, err)
	}
	if stock.DayHigh, err = decimal.NewFromString(dayHigh); err != nil {
		return stock, fmt.Errorf("invalid day_high %q: %w", dayHigh, err)
	}

	if updatedAt.Valid {
		stock.UpdatedAt = updatedAt.Time.UTC()
	} else {
		stock.UpdatedAt = time.Time{}
	}

	return stock, nil
}

func collectStocks(rows *sql.Rows) ([]domain.Stock, error) {
	var stocks []domain.Stock
	for rows.Next() {
		stock, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stocks = append(stocks, stock)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stocks: %w", err)
	}

	return stocks, nil
}
