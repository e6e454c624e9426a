package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/events"
)

// Importer loads exchange bhavcopy CSV files into the market database.
// The expected layout is the NSE daily format with a header row:
// SYMBOL, SERIES, OPEN, HIGH, LOW, CLOSE, LAST, PREVCLOSE, TOTTRDQTY,
// TOTTRDVAL, TIMESTAMP, ...
type Importer struct {
	stockRepo *StockRepository
	bus       *events.Bus
	log       zerolog.Logger
}

// NewImporter creates a CSV importer
func NewImporter(stockRepo *StockRepository, bus *events.Bus, log zerolog.Logger) *Importer {
	return &Importer{
		stockRepo: stockRepo,
		bus:       bus,
		log:       log.With().Str("component", "csv_importer").Logger(),
	}
}

// ImportResult summarizes one processed file
type ImportResult struct {
	Filename     string `json:"filename"`
	RowsImported int    `json:"rows_imported"`
	RowsSkipped  int    `json:"rows_skipped"`
}

// Import reads a bhavcopy CSV stream and upserts stocks and daily bars.
// Malformed rows are skipped and counted rather than failing the file.
func (imp *Importer) Import(r io.Reader, filename string) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header from %s: %w", filename, err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, fmt.Errorf("unusable CSV header in %s: %w", filename, err)
	}

	result := &ImportResult{Filename: filename}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.RowsSkipped++
			continue
		}

		bar, prevClose, ok := parseRow(record, cols)
		if !ok {
			result.RowsSkipped++
			continue
		}

		// EQ series only; bonds and other series share symbols with equities
		if cols.series >= 0 && cols.series < len(record) {
			if series := strings.TrimSpace(record[cols.series]); series != "" && series != "EQ" {
				result.RowsSkipped++
				continue
			}
		}

		stock := domain.Stock{
			Symbol:    bar.Symbol,
			Exchange:  "NSE",
			LastPrice: bar.Close,
			PrevClose: prevClose,
		}
		if err := imp.stockRepo.Upsert(stock); err != nil {
			imp.log.Warn().Err(err).Str("symbol", bar.Symbol).Msg("Failed to upsert stock from CSV")
			result.RowsSkipped++
			continue
		}

		if err := imp.stockRepo.SaveBar(bar); err != nil {
			imp.log.Warn().Err(err).Str("symbol", bar.Symbol).Msg("Failed to save bar from CSV")
			result.RowsSkipped++
			continue
		}

		result.RowsImported++
	}

	if err := imp.stockRepo.RecordImport(filename, result.RowsImported, result.RowsSkipped); err != nil {
		return nil, err
	}

	imp.log.Info().
		Str("filename", filename).
		Int("imported", result.RowsImported).
		Int("skipped", result.RowsSkipped).
		Msg("CSV import complete")

	if imp.bus != nil {
		imp.bus.Publish("market", events.StockImported, &events.StockImportedData{
			Filename:     filename,
			RowsImported: result.RowsImported,
			RowsSkipped:  result.RowsSkipped,
		})
	}

	return result, nil
}

// columnIndexes holds the positions of the fields we use. series is -1
// when the file has no SERIES column.
type columnIndexes struct {
	symbol    int
	series    int
	open      int
	high      int
	low       int
	close     int
	prevClose int
	volume    int
	timestamp int
}

func mapColumns(header []string) (columnIndexes, error) {
	cols := columnIndexes{symbol: -1, series: -1, open: -1, high: -1, low: -1, close: -1, prevClose: -1, volume: -1, timestamp: -1}

	for i, name := range header {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "SYMBOL":
			cols.symbol = i
		case "SERIES":
			cols.series = i
		case "OPEN":
			cols.open = i
		case "HIGH":
			cols.high = i
		case "LOW":
			cols.low = i
		case "CLOSE":
			cols.close = i
		case "PREVCLOSE":
			cols.prevClose = i
		case "TOTTRDQTY":
			cols.volume = i
		case "TIMESTAMP":
			cols.timestamp = i
		}
	}

	if cols.symbol < 0 || cols.close < 0 {
		return cols, fmt.Errorf("missing required columns SYMBOL and CLOSE")
	}

	return cols, nil
}

func parseRow(record []string, cols columnIndexes) (domain.DailyBar, decimal.Decimal, bool) {
	var bar domain.DailyBar

	field := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	bar.Symbol = normalizeSymbol(field(cols.symbol))
	if bar.Symbol == "" {
		return bar, decimal.Zero, false
	}

	closePrice, err := decimal.NewFromString(field(cols.close))
	if err != nil || closePrice.Sign() <= 0 {
		return bar, decimal.Zero, false
	}
	bar.Close = closePrice

	// Missing OHLC fields degrade to the close price
	bar.Open = decimalOr(field(cols.open), closePrice)
	bar.High = decimalOr(field(cols.high), closePrice)
	bar.Low = decimalOr(field(cols.low), closePrice)

	prevClose := decimalOr(field(cols.prevClose), closePrice)

	if v := field(cols.volume); v != "" {
		if vol, err := strconv.ParseInt(v, 10, 64); err == nil {
			bar.Volume = vol
		}
	}

	bar.TradeDate = parseTradeDate(field(cols.timestamp))

	return bar, prevClose, true
}

func decimalOr(s string, fallback decimal.Decimal) decimal.Decimal {
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.Sign() <= 0 {
		return fallback
	}
	return d
}

// parseTradeDate accepts the NSE "02-JAN-2006" format plus ISO dates,
// defaulting to today when the field is absent or unreadable
func parseTradeDate(s string) string {
	if s != "" {
		// time.Parse wants "Jan", NSE files ship "JAN"
		candidates := []string{s}
		if len(s) >= 6 && s[2] == '-' {
			candidates = append(candidates, s[:3]+strings.ToUpper(s[3:4])+strings.ToLower(s[4:6])+s[6:])
		}
		for _, candidate := range candidates {
			for _, layout := range []string{"02-Jan-2006", "2006-01-02", "02/01/2006"} {
				if t, err := time.Parse(layout, candidate); err == nil {
					return t.Format("2006-01-02")
				}
			}
		}
	}
	return time.Now().UTC().Format("2006-01-02")
}
