// Package watchlists manages user watchlists of symbols.
package watchlists

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/domain"
)

// Repository handles watchlist database operations
type Repository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewRepository creates a new watchlist repository
func NewRepository(portfolioDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "watchlists").Logger(),
	}
}

// Create inserts a watchlist and returns it with its assigned ID
func (r *Repository) Create(userID int64, name string) (*domain.Watchlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("watchlist name is required")
	}

	res, err := r.portfolioDB.Exec(`
		INSERT INTO watchlists (user_id, name) VALUES (?, ?)
	`, userID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create watchlist: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist id: %w", err)
	}

	return &domain.Watchlist{ID: id, UserID: userID, Name: name}, nil
}

// Get retrieves a watchlist with its symbols, scoped to the owner.
// Returns nil when not found.
func (r *Repository) Get(userID, id int64) (*domain.Watchlist, error) {
	var wl domain.Watchlist
	var createdAt sql.NullTime

	err := r.portfolioDB.QueryRow(`
		SELECT id, user_id, name, created_at FROM watchlists WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&wl.ID, &wl.UserID, &wl.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist %d: %w", id, err)
	}

	if createdAt.Valid {
		wl.CreatedAt = createdAt.Time.UTC()
	}

	symbols, err := r.symbols(id)
	if err != nil {
		return nil, err
	}
	wl.Symbols = symbols

	return &wl, nil
}

// ListByUser returns a user's watchlists with their symbols
func (r *Repository) ListByUser(userID int64) ([]domain.Watchlist, error) {
	rows, err := r.portfolioDB.Query(`
		SELECT id, user_id, name, created_at FROM watchlists WHERE user_id = ? ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlists: %w", err)
	}
	defer rows.Close()

	var lists []domain.Watchlist
	for rows.Next() {
		var wl domain.Watchlist
		var createdAt sql.NullTime

		if err := rows.Scan(&wl.ID, &wl.UserID, &wl.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist: %w", err)
		}
		if createdAt.Valid {
			wl.CreatedAt = createdAt.Time.UTC()
		}

		lists = append(lists, wl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchlists: %w", err)
	}

	for i := range lists {
		symbols, err := r.symbols(lists[i].ID)
		if err != nil {
			return nil, err
		}
		lists[i].Symbols = symbols
	}

	return lists, nil
}

// AddSymbol adds a symbol to a watchlist. Adding an already-present
// symbol is a no-op.
func (r *Repository) AddSymbol(userID, watchlistID int64, symbol string) error {
	owned, err := r.owns(userID, watchlistID)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("watchlist %d not found", watchlistID)
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	if _, err := r.portfolioDB.Exec(`
		INSERT OR IGNORE INTO watchlist_stocks (watchlist_id, symbol) VALUES (?, ?)
	`, watchlistID, symbol); err != nil {
		return fmt.Errorf("failed to add symbol to watchlist: %w", err)
	}

	return nil
}

// RemoveSymbol removes a symbol from a watchlist
func (r *Repository) RemoveSymbol(userID, watchlistID int64, symbol string) error {
	owned, err := r.owns(userID, watchlistID)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("watchlist %d not found", watchlistID)
	}

	if _, err := r.portfolioDB.Exec(`
		DELETE FROM watchlist_stocks WHERE watchlist_id = ? AND symbol = ?
	`, watchlistID, strings.ToUpper(strings.TrimSpace(symbol))); err != nil {
		return fmt.Errorf("failed to remove symbol from watchlist: %w", err)
	}

	return nil
}

// Delete removes a watchlist and its symbols
func (r *Repository) Delete(userID, watchlistID int64) error {
	owned, err := r.owns(userID, watchlistID)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("watchlist %d not found", watchlistID)
	}

	if _, err := r.portfolioDB.Exec("DELETE FROM watchlist_stocks WHERE watchlist_id = ?", watchlistID); err != nil {
		return fmt.Errorf("failed to delete watchlist symbols: %w", err)
	}
	if _, err := r.portfolioDB.Exec("DELETE FROM watchlists WHERE id = ?", watchlistID); err != nil {
		return fmt.Errorf("failed to delete watchlist: %w", err)
	}

	return nil
}

func (r *Repository) owns(userID, watchlistID int64) (bool, error) {
	var one int
	err := r.portfolioDB.QueryRow(`
		SELECT 1 FROM watchlists WHERE id = ? AND user_id = ?
	`, watchlistID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check watchlist ownership: %w", err)
	}
	return true, nil
}

func (r *Repository) symbols(watchlistID int64) ([]string, error) {
	rows, err := r.portfolioDB.Query(`
		SELECT symbol FROM watchlist_stocks WHERE watchlist_id = ? ORDER BY symbol
	`, watchlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist symbol: %w", err)
		}
		symbols = append(symbols, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchlist symbols: %w", err)
	}

	return symbols, nil
}
