// Package users manages accounts and first-login provisioning.
package users

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/domain"
)

// Repository handles user database operations
type Repository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewRepository creates a new user repository
func NewRepository(portfolioDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "users").Logger(),
	}
}

// Create inserts a user and returns it with its assigned ID
func (r *Repository) Create(username, email string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	res, err := r.portfolioDB.Exec(`
		INSERT INTO users (username, email) VALUES (?, ?)
	`, username, email)
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", username, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}

	r.log.Info().Int64("user_id", id).Str("username", username).Msg("User created")

	return &domain.User{ID: id, Username: username, Email: email}, nil
}

// GetByUsername retrieves a user by name. Returns nil when unknown.
func (r *Repository) GetByUsername(username string) (*domain.User, error) {
	var u domain.User
	var createdAt sql.NullTime

	err := r.portfolioDB.QueryRow(`
		SELECT id, username, email, created_at FROM users WHERE username = ?
	`, strings.TrimSpace(username)).Scan(&u.ID, &u.Username, &u.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", username, err)
	}

	if createdAt.Valid {
		u.CreatedAt = createdAt.Time.UTC()
	}

	return &u, nil
}

// Get retrieves a user by ID. Returns nil when unknown.
func (r *Repository) Get(id int64) (*domain.User, error) {
	var u domain.User
	var createdAt sql.NullTime

	err := r.portfolioDB.QueryRow(`
		SELECT id, username, email, created_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &u.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}

	if createdAt.Valid {
		u.CreatedAt = createdAt.Time.UTC()
	}

	return &u, nil
}
