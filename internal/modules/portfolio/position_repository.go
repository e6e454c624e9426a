package portfolio

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
	"github.com/tradedesk/papertrader/internal/ledger"
)

// PositionRepository handles stored position rows. Rows mirror the
// ledger's derived state: a flat position has no row at all.
type PositionRepository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(portfolioDB *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "position").Logger(),
	}
}

// Get retrieves the position for one symbol. A missing row is a flat
// position, not an error.
func (r *PositionRepository) Get(portfolioID int64, symbol string) (ledger.Position, error) {
	var quantity int64
	var avgPrice string

	err := r.portfolioDB.QueryRow(`
		SELECT quantity, avg_price FROM positions
		WHERE portfolio_id = ? AND symbol = ?
	`, portfolioID, symbol).Scan(&quantity, &avgPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Position{}, nil
	}
	if err != nil {
		return ledger.Position{}, fmt.Errorf("failed to get position: %w", err)
	}

	avg, err := decimal.NewFromString(avgPrice)
	if err != nil {
		return ledger.Position{}, fmt.Errorf("invalid avg_price %q: %w", avgPrice, err)
	}

	return ledger.Position{Quantity: quantity, AvgPrice: avg}, nil
}

// GetTx is Get inside an existing transaction
func (r *PositionRepository) GetTx(tx *sql.Tx, portfolioID int64, symbol string) (ledger.Position, error) {
	var quantity int64
	var avgPrice string

	err := tx.QueryRow(`
		SELECT quantity, avg_price FROM positions
		WHERE portfolio_id = ? AND symbol = ?
	`, portfolioID, symbol).Scan(&quantity, &avgPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Position{}, nil
	}
	if err != nil {
		return ledger.Position{}, fmt.Errorf("failed to get position: %w", err)
	}

	avg, err := decimal.NewFromString(avgPrice)
	if err != nil {
		return ledger.Position{}, fmt.Errorf("invalid avg_price %q: %w", avgPrice, err)
	}

	return ledger.Position{Quantity: quantity, AvgPrice: avg}, nil
}

// SetTx writes the position for one symbol inside a transaction. A flat
// position deletes the row so the table only ever holds open positions.
func (r *PositionRepository) SetTx(tx *sql.Tx, portfolioID int64, symbol string, pos ledger.Position) error {
	if pos.Flat() {
		if _, err := tx.Exec(`
			DELETE FROM positions WHERE portfolio_id = ? AND symbol = ?
		`, portfolioID, symbol); err != nil {
			return fmt.Errorf("failed to delete flat position: %w", err)
		}
		return nil
	}

	if _, err := tx.Exec(`
		INSERT INTO positions (portfolio_id, symbol, quantity, avg_price, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(portfolio_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			updated_at = CURRENT_TIMESTAMP
	`, portfolioID, symbol, pos.Quantity, pos.AvgPrice.String()); err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	return nil
}

// List returns all open positions for a portfolio
func (r *PositionRepository) List(portfolioID int64) ([]domain.Position, error) {
	rows, err := r.portfolioDB.Query(`
		SELECT portfolio_id, symbol, quantity, avg_price, updated_at
		FROM positions
		WHERE portfolio_id = ?
		ORDER BY symbol
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var avgPrice string
		var updatedAt sql.NullTime

		if err := rows.Scan(&p.PortfolioID, &p.Symbol, &p.Quantity, &avgPrice, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		if p.AvgPrice, err = decimal.NewFromString(avgPrice); err != nil {
			return nil, fmt.Errorf("invalid avg_price %q: %w", avgPrice, err)
		}
		if updatedAt.Valid {
			p.UpdatedAt = updatedAt.Time.UTC()
		}

		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}
