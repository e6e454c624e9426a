// Package domain provides core domain models shared across modules.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Visibility controls who can view a portfolio
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// Valid reports whether the visibility is a known value
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// User represents an account holder
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Portfolio is a named pot of cash and positions belonging to a user.
// Each user has at most one active portfolio, the default target for
// orders that do not name one.
type Portfolio struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Name        string          `json:"name"`
	Visibility  Visibility      `json:"visibility"`
	Cash        decimal.Decimal `json:"cash"`
	InitialCash decimal.Decimal `json:"initial_cash"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Position is a stored holding row. Quantity is signed: positive long,
// negative short.
type Position struct {
	PortfolioID int64           `json:"portfolio_id"`
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Trade is an executed order recorded in the append-only ledger
type Trade struct {
	ID          int64           `json:"id"`
	OrderID     string          `json:"order_id"`
	PortfolioID int64           `json:"portfolio_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Stock is a tradeable instrument from the market database
type Stock struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Exchange  string          `json:"exchange"`
	Sector    string          `json:"sector,omitempty"`
	LastPrice decimal.Decimal `json:"last_price"`
	PrevClose decimal.Decimal `json:"prev_close"`
	DayLow    decimal.Decimal `json:"day_low"`
	DayHigh   decimal.Decimal `json:"day_high"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ChangePercent is the move of the last price relative to the previous
// close, rounded to two decimal places. Zero when no previous close is
// known.
func (s Stock) ChangePercent() decimal.Decimal {
	if s.PrevClose.IsZero() {
		return decimal.Zero
	}
	return s.LastPrice.Sub(s.PrevClose).
		Div(s.PrevClose).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

// DailyBar is one day of OHLCV data for a symbol
type DailyBar struct {
	Symbol    string          `json:"symbol"`
	TradeDate string          `json:"trade_date"` // YYYY-MM-DD
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// Quote is a point-in-time price for a symbol from an external source
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	PrevClose decimal.Decimal `json:"prev_close"`
	AsOf      time.Time       `json:"as_of"`
}

// Report is a portfolio valuation snapshot for one date
type Report struct {
	ID             int64           `json:"id"`
	PortfolioID    int64           `json:"portfolio_id"`
	ReportDate     string          `json:"report_date"` // YYYY-MM-DD
	Cash           decimal.Decimal `json:"cash"`
	HoldingsValue  decimal.Decimal `json:"holdings_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	PrevReportID   *int64          `json:"prev_report_id,omitempty"`
	ValueChange    decimal.Decimal `json:"value_change"`
	ValueChangePct decimal.Decimal `json:"value_change_pct"`
	CreatedAt      time.Time       `json:"created_at"`
	Holdings       []ReportHolding `json:"holdings,omitempty"`
}

// ReportHolding is the per-symbol detail captured with a report
type ReportHolding struct {
	ID            int64           `json:"id"`
	ReportID      int64           `json:"report_id"`
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Watchlist is a named list of symbols a user follows
type Watchlist struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Symbols   []string  `json:"symbols,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
