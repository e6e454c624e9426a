// Package events provides an in-process publish/subscribe bus used to push
// application events to SSE and WebSocket clients.
package events

import (
	"time"
)

// EventType identifies a class of application event
type EventType string

const (
	TradeExecuted    EventType = "TRADE_EXECUTED"
	PriceUpdated     EventType = "PRICE_UPDATED"
	PortfolioChanged EventType = "PORTFOLIO_CHANGED"
	ReportGenerated  EventType = "REPORT_GENERATED"
	StockImported    EventType = "STOCK_IMPORTED"
	ErrorOccurred    EventType = "ERROR_OCCURRED"
)

// Event is a single published event. Data holds a JSON-serializable
// payload specific to the event type.
type Event struct {
	Type      EventType   `json:"type"`
	Module    string      `json:"module"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// TradeExecutedData is the payload for TradeExecuted events
type TradeExecutedData struct {
	OrderID     string `json:"order_id"`
	PortfolioID int64  `json:"portfolio_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Quantity    int64  `json:"quantity"`
	Price       string `json:"price"`
	RealizedPnL string `json:"realized_pnl"`
}

// PriceUpdatedData is the payload for PriceUpdated events
type PriceUpdatedData struct {
	Symbol string `json:"symbol,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// PortfolioChangedData is the payload for PortfolioChanged events
type PortfolioChangedData struct {
	PortfolioID int64  `json:"portfolio_id"`
	Reason      string `json:"reason,omitempty"`
}

// ReportGeneratedData is the payload for ReportGenerated events
type ReportGeneratedData struct {
	PortfolioID int64  `json:"portfolio_id"`
	ReportID    int64  `json:"report_id"`
	ReportDate  string `json:"report_date"`
}

// StockImportedData is the payload for StockImported events
type StockImportedData struct {
	Filename     string `json:"filename"`
	RowsImported int    `json:"rows_imported"`
	RowsSkipped  int    `json:"rows_skipped"`
}

// ErrorData is the payload for ErrorOccurred events
type ErrorData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
