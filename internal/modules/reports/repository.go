// Package reports produces and stores dated portfolio valuation
// snapshots with per-holding detail.
package reports

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/database"
	"github.com/tradedesk/papertrader/internal/domain"
)

// Repository handles report database operations
type Repository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

const reportColumns = `id, portfolio_id, report_date, cash, holdings_value, total_value, realized_pnl, unrealized_pnl, prev_report_id, value_change, value_change_pct, created_at`

// NewRepository creates a new report repository
func NewRepository(portfolioDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "reports").Logger(),
	}
}

// Create stores a report and its holdings atomically, replacing any
// existing report for the same portfolio and date
func (r *Repository) Create(report *domain.Report) error {
	return database.WithTransaction(r.portfolioDB, func(tx *sql.Tx) error {
		// Regenerating a day replaces the earlier snapshot
		var oldID int64
		err := tx.QueryRow(`
			SELECT id FROM reports WHERE portfolio_id = ? AND report_date = ?
		`, report.PortfolioID, report.ReportDate).Scan(&oldID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check existing report: %w", err)
		}
		if err == nil {
			if _, err := tx.Exec("DELETE FROM report_holdings WHERE report_id = ?", oldID); err != nil {
				return fmt.Errorf("failed to clear old report holdings: %w", err)
			}
			if _, err := tx.Exec("DELETE FROM reports WHERE id = ?", oldID); err != nil {
				return fmt.Errorf("failed to clear old report: %w", err)
			}
		}

		var prevID interface{}
		if report.PrevReportID != nil {
			prevID = *report.PrevReportID
		}

		res, err := tx.Exec(`
			INSERT INTO reports
			(portfolio_id, report_date, cash, holdings_value, total_value,
			 realized_pnl, unrealized_pnl, prev_report_id, value_change, value_change_pct)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.PortfolioID,
			report.ReportDate,
			report.Cash.String(),
			report.HoldingsValue.String(),
			report.TotalValue.String(),
			report.RealizedPnL.String(),
			report.UnrealizedPnL.String(),
			prevID,
			report.ValueChange.String(),
			report.ValueChangePct.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get report id: %w", err)
		}
		report.ID = id

		for i := range report.Holdings {
			h := &report.Holdings[i]
			h.ReportID = id

			if _, err := tx.Exec(`
				INSERT INTO report_holdings
				(report_id, symbol, quantity, avg_price, market_price, market_value, unrealized_pnl)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				id,
				h.Symbol,
				h.Quantity,
				h.AvgPrice.String(),
				h.MarketPrice.String(),
				h.MarketValue.String(),
				h.UnrealizedPnL.String(),
			); err != nil {
				return fmt.Errorf("failed to insert report holding %s: %w", h.Symbol, err)
			}
		}

		return nil
	})
}

// Get retrieves one report with its holdings. Returns nil when unknown.
func (r *Repository) Get(id int64) (*domain.Report, error) {
	query := "SELECT " + reportColumns + " FROM reports WHERE id = ?"

	report, err := scanReport(r.portfolioDB.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %d: %w", id, err)
	}

	holdings, err := r.getHoldings(id)
	if err != nil {
		return nil, err
	}
	report.Holdings = holdings

	return &report, nil
}

// GetLatest returns a portfolio's most recent report, without holdings.
// Returns nil when the portfolio has no reports.
func (r *Repository) GetLatest(portfolioID int64) (*domain.Report, error) {
	query := `
		SELECT ` + reportColumns + ` FROM reports
		WHERE portfolio_id = ?
		ORDER BY report_date DESC
		LIMIT 1
	`

	report, err := scanReport(r.portfolioDB.QueryRow(query, portfolioID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}

	return &report, nil
}

// List returns a portfolio's reports newest first, without holdings
func (r *Repository) List(portfolioID int64, limit int) ([]domain.Report, error) {
	query := `
		SELECT ` + reportColumns + ` FROM reports
		WHERE portfolio_id = ?
		ORDER BY report_date DESC
		LIMIT ?
	`

	rows, err := r.portfolioDB.Query(query, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	return reports, nil
}

// ListByUser returns reports across all of a user's portfolios, newest
// first, without holdings
func (r *Repository) ListByUser(userID int64, limit int) ([]domain.Report, error) {
	query := `
		SELECT ` + reportColumns + ` FROM reports
		WHERE portfolio_id IN (SELECT id FROM portfolios WHERE user_id = ?)
		ORDER BY report_date DESC, id DESC
		LIMIT ?
	`

	rows, err := r.portfolioDB.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports by user: %w", err)
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	return reports, nil
}

func (r *Repository) getHoldings(reportID int64) ([]domain.ReportHolding, error) {
	rows, err := r.portfolioDB.Query(`
		SELECT id, report_id, symbol, quantity, avg_price, market_price, market_value, unrealized_pnl
		FROM report_holdings
		WHERE report_id = ?
		ORDER BY symbol
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to get report holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.ReportHolding
	for rows.Next() {
		var h domain.ReportHolding
		var avgPrice, marketPrice, marketValue, unrealized string

		if err := rows.Scan(&h.ID, &h.ReportID, &h.Symbol, &h.Quantity, &avgPrice, &marketPrice, &marketValue, &unrealized); err != nil {
			return nil, fmt.Errorf("failed to scan report holding: %w", err)
		}

		if h.AvgPrice, err = decimal.NewFromString(avgPrice); err != nil {
			return nil, fmt.Errorf("invalid avg_price %q: %w", avgPrice, err)
		}
		if h.MarketPrice, err = decimal.NewFromString(marketPrice); err != nil {
			return nil, fmt.Errorf("invalid market_price %q: %w", marketPrice, err)
		}
		if h.MarketValue, err = decimal.NewFromString(marketValue); err != nil {
			return nil, fmt.Errorf("invalid market_value %q: %w", marketValue, err)
		}
		if h.UnrealizedPnL, err = decimal.NewFromString(unrealized); err != nil {
			return nil, fmt.Errorf("invalid unrealized_pnl %q: %w", unrealized, err)
		}

		holdings = append(holdings, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report holdings: %w", err)
	}

	return holdings, nil
}

func scanReport(row interface{ Scan(...interface{}) error }) (domain.Report, error) {
	var report domain.Report
	var cash, holdingsValue, totalValue, realized, unrealized, valueChange, valueChangePct string
	var prevID sql.NullInt64
	var createdAt sql.NullTime

	err := row.Scan(
		&report.ID,
		&report.PortfolioID,
		&report.ReportDate,
		&cash,
		&holdingsValue,
		&totalValue,
		&realized,
		&unrealized,
		&prevID,
		&valueChange,
		&valueChangePct,
		&createdAt,
	)
	if err != nil {
		return report, err
	}

	if report.Cash, err = decimal.NewFromString(cash); err != nil {
		return report, fmt.Errorf("invalid cash %q: %w", cash, err)
	}
	if report.HoldingsValue, err = decimal.NewFromString(holdingsValue); err != nil {
		return report, fmt.Errorf("invalid holdings_value %q: %w", holdingsValue, err)
	}
	if report.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
		return report, fmt.Errorf("invalid total_value %q: %w", totalValue, err)
	}
	if report.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
		return report, fmt.Errorf("invalid realized_pnl %q: %w", realized, err)
	}
	if report.UnrealizedPnL, err = decimal.NewFromString(unrealized); err != nil {
		return report, fmt.Errorf("invalid unrealized_pnl %q: %w", unrealized, err)
	}
	if report.ValueChange, err = decimal.NewFromString(valueChange); err != nil {
		return report, fmt.Errorf("invalid value_change %q: %w", valueChange, err)
	}
	if report.ValueChangePct, err = decimal.NewFromString(valueChangePct); err != nil {
		return report, fmt.Errorf("invalid value_change_pct %q: %w", valueChangePct, err)
	}

	if prevID.Valid {
		report.PrevReportID = &prevID.Int64
	}
	if createdAt.Valid {
		report.CreatedAt = createdAt.Time.UTC()
	}

	return report, nil
}
