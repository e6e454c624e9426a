// Package portfolio manages portfolios, their cash balances and stored
// positions.
package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/database"
	"github.com/tradedesk/papertrader/internal/domain"
)

// PortfolioRepository handles portfolio database operations
type PortfolioRepository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

const portfolioColumns = `id, user_id, name, visibility, cash, initial_cash, is_active, created_at, updated_at`

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(portfolioDB *sql.DB, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "portfolio").Logger(),
	}
}

// Create inserts a new portfolio and returns it with its assigned ID.
// The first portfolio a user creates becomes their active one.
func (r *PortfolioRepository) Create(userID int64, name string, visibility domain.Visibility, cash decimal.Decimal) (*domain.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("portfolio name is required")
	}
	if !visibility.Valid() {
		return nil, fmt.Errorf("invalid visibility %q", visibility)
	}
	if cash.Sign() < 0 {
		return nil, fmt.Errorf("starting cash cannot be negative")
	}

	var created *domain.Portfolio
	err := database.WithTransaction(r.portfolioDB, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM portfolios WHERE user_id = ?", userID).Scan(&count); err != nil {
			return fmt.Errorf("failed to count portfolios: %w", err)
		}

		isActive := 0
		if count == 0 {
			isActive = 1
		}

		res, err := tx.Exec(`
			INSERT INTO portfolios (user_id, name, visibility, cash, initial_cash, is_active)
			VALUES (?, ?, ?, ?, ?, ?)
		`, userID, name, string(visibility), cash.String(), cash.String(), isActive)
		if err != nil {
			return fmt.Errorf("failed to create portfolio: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get portfolio id: %w", err)
		}

		created = &domain.Portfolio{
			ID:          id,
			UserID:      userID,
			Name:        name,
			Visibility:  visibility,
			Cash:        cash,
			InitialCash: cash,
			IsActive:    isActive == 1,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Int64("portfolio_id", created.ID).
		Int64("user_id", userID).
		Str("name", name).
		Msg("Portfolio created")

	return created, nil
}

// Get retrieves a portfolio by ID. Returns nil when not found.
func (r *PortfolioRepository) Get(id int64) (*domain.Portfolio, error) {
	query := "SELECT " + portfolioColumns + " FROM portfolios WHERE id = ?"

	p, err := scanPortfolio(r.portfolioDB.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio %d: %w", id, err)
	}

	return &p, nil
}

// ListByUser returns all portfolios owned by a user
func (r *PortfolioRepository) ListByUser(userID int64) ([]domain.Portfolio, error) {
	query := "SELECT " + portfolioColumns + " FROM portfolios WHERE user_id = ? ORDER BY id"

	rows, err := r.portfolioDB.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	defer rows.Close()

	return collectPortfolios(rows)
}

// ListAll returns every portfolio. Used by the report snapshot job.
func (r *PortfolioRepository) ListAll() ([]domain.Portfolio, error) {
	query := "SELECT " + portfolioColumns + " FROM portfolios ORDER BY id"

	rows, err := r.portfolioDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	defer rows.Close()

	return collectPortfolios(rows)
}

// ListPublic returns portfolios visible to everyone
func (r *PortfolioRepository) ListPublic() ([]domain.Portfolio, error) {
	query := "SELECT " + portfolioColumns + " FROM portfolios WHERE visibility = 'PUBLIC' ORDER BY id"

	rows, err := r.portfolioDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list public portfolios: %w", err)
	}
	defer rows.Close()

	return collectPortfolios(rows)
}

// GetActive returns the user's active portfolio. Returns nil when the
// user has no portfolios.
func (r *PortfolioRepository) GetActive(userID int64) (*domain.Portfolio, error) {
	query := "SELECT " + portfolioColumns + " FROM portfolios WHERE user_id = ? AND is_active = 1"

	p, err := scanPortfolio(r.portfolioDB.QueryRow(query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active portfolio: %w", err)
	}

	return &p, nil
}

// SetActive marks a portfolio active and deactivates the user's others
func (r *PortfolioRepository) SetActive(userID, portfolioID int64) error {
	return database.WithTransaction(r.portfolioDB, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE portfolios SET is_active = 1, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND user_id = ?
		`, portfolioID, userID)
		if err != nil {
			return fmt.Errorf("failed to activate portfolio: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check activation: %w", err)
		}
		if affected == 0 {
			return domain.ErrPortfolioNotFound
		}

		if _, err := tx.Exec(`
			UPDATE portfolios SET is_active = 0, updated_at = CURRENT_TIMESTAMP
			WHERE user_id = ? AND id != ?
		`, userID, portfolioID); err != nil {
			return fmt.Errorf("failed to deactivate other portfolios: %w", err)
		}

		return nil
	})
}

// UpdateVisibility changes who can view a portfolio
func (r *PortfolioRepository) UpdateVisibility(id int64, visibility domain.Visibility) error {
	if !visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", visibility)
	}

	res, err := r.portfolioDB.Exec(`
		UPDATE portfolios SET visibility = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(visibility), id)
	if err != nil {
		return fmt.Errorf("failed to update visibility: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check visibility update: %w", err)
	}
	if affected == 0 {
		return domain.ErrPortfolioNotFound
	}

	return nil
}

// UpdateVisibilityBulk changes visibility on several of a user's
// portfolios at once. An empty id list targets all of them. Returns the
// number of portfolios updated.
func (r *PortfolioRepository) UpdateVisibilityBulk(userID int64, visibility domain.Visibility, ids []int64) (int64, error) {
	if !visibility.Valid() {
		return 0, fmt.Errorf("invalid visibility %q", visibility)
	}

	query := "UPDATE portfolios SET visibility = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?"
	args := []interface{}{string(visibility), userID}
	if len(ids) > 0 {
		query += " AND id IN (?" + strings.Repeat(", ?", len(ids)-1) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}

	res, err := r.portfolioDB.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update visibility: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check bulk visibility update: %w", err)
	}

	return affected, nil
}

// Delete removes a portfolio along with its positions and report
// history. Only the owner can delete, and when the active portfolio is
// removed the user's oldest remaining one takes its place. Executed
// trades stay in the ledger.
func (r *PortfolioRepository) Delete(userID, portfolioID int64) error {
	err := database.WithTransaction(r.portfolioDB, func(tx *sql.Tx) error {
		var owner int64
		err := tx.QueryRow("SELECT user_id FROM portfolios WHERE id = ?", portfolioID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrPortfolioNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load portfolio %d: %w", portfolioID, err)
		}
		if owner != userID {
			return domain.ErrPortfolioNotFound
		}

		if _, err := tx.Exec(`
			DELETE FROM report_holdings
			WHERE report_id IN (SELECT id FROM reports WHERE portfolio_id = ?)
		`, portfolioID); err != nil {
			return fmt.Errorf("failed to delete report holdings: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM reports WHERE portfolio_id = ?", portfolioID); err != nil {
			return fmt.Errorf("failed to delete reports: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM positions WHERE portfolio_id = ?", portfolioID); err != nil {
			return fmt.Errorf("failed to delete positions: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM portfolios WHERE id = ?", portfolioID); err != nil {
			return fmt.Errorf("failed to delete portfolio: %w", err)
		}

		if _, err := tx.Exec(`
			UPDATE portfolios SET is_active = 1, updated_at = CURRENT_TIMESTAMP
			WHERE id = (SELECT id FROM portfolios WHERE user_id = ? ORDER BY id LIMIT 1)
			  AND NOT EXISTS (SELECT 1 FROM portfolios WHERE user_id = ? AND is_active = 1)
		`, userID, userID); err != nil {
			return fmt.Errorf("failed to reassign active portfolio: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().
		Int64("portfolio_id", portfolioID).
		Int64("user_id", userID).
		Msg("Portfolio deleted")

	return nil
}

// GetCash reads a portfolio's cash balance inside an existing transaction
func (r *PortfolioRepository) GetCash(tx *sql.Tx, portfolioID int64) (decimal.Decimal, error) {
	var cash string
	err := tx.QueryRow("SELECT cash FROM portfolios WHERE id = ?", portfolioID).Scan(&cash)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, domain.ErrPortfolioNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get cash: %w", err)
	}

	d, err := decimal.NewFromString(cash)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid cash value %q: %w", cash, err)
	}

	return d, nil
}

// SetCash writes a portfolio's cash balance inside an existing transaction
func (r *PortfolioRepository) SetCash(tx *sql.Tx, portfolioID int64, cash decimal.Decimal) error {
	res, err := tx.Exec(`
		UPDATE portfolios SET cash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, cash.String(), portfolioID)
	if err != nil {
		return fmt.Errorf("failed to set cash: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cash update: %w", err)
	}
	if affected == 0 {
		return domain.ErrPortfolioNotFound
	}

	return nil
}

// DB exposes the underlying connection for cross-repository transactions
func (r *PortfolioRepository) DB() *sql.DB {
	return r.portfolioDB
}

// Helper functions

func scanPortfolio(row interface{ Scan(...interface{}) error }) (domain.Portfolio, error) {
	var p domain.Portfolio
	var visibility, cash, initialCash string
	var isActive int
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(&p.ID, &p.UserID, &p.Name, &visibility, &cash, &initialCash, &isActive, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}

	p.Visibility = domain.Visibility(visibility)
	p.IsActive = isActive == 1

	if p.Cash, err = decimal.NewFromString(cash); err != nil {
		return p, fmt.Errorf("invalid cash value %q: %w", cash, err)
	}
	if p.InitialCash, err = decimal.NewFromString(initialCash); err != nil {
		return p, fmt.Errorf("invalid initial_cash value %q: %w", initialCash, err)
	}

	if createdAt.Valid {
		p.CreatedAt = createdAt.Time.UTC()
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time.UTC()
	}

	return p, nil
}

func collectPortfolios(rows *sql.Rows) ([]domain.Portfolio, error) {
	var portfolios []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}

	return portfolios, nil
}
