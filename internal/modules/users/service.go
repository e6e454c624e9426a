package users

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/papertrader/internal/domain"
)

// PortfolioCreator provisions a portfolio for a new user, implemented by
// the portfolio repository
type PortfolioCreator interface {
	Create(userID int64, name string, visibility domain.Visibility, cash decimal.Decimal) (*domain.Portfolio, error)
}

// Service resolves usernames to accounts, creating the account and a
// default portfolio on first sight
type Service struct {
	repo         *Repository
	portfolios   PortfolioCreator
	startingCash decimal.Decimal
	log          zerolog.Logger

	mu sync.Mutex // serializes first-login provisioning
}

// NewService creates a users service
func NewService(repo *Repository, portfolios PortfolioCreator, startingCash decimal.Decimal, log zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		portfolios:   portfolios,
		startingCash: startingCash,
		log:          log.With().Str("service", "users").Logger(),
	}
}

// ResolveUsername returns the user ID for a username, provisioning the
// account and its default portfolio when the name is new
func (s *Service) ResolveUsername(username string) (int64, error) {
	user, err := s.repo.GetByUsername(username)
	if err != nil {
		return 0, err
	}
	if user != nil {
		return user.ID, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: a concurrent request may have won
	user, err = s.repo.GetByUsername(username)
	if err != nil {
		return 0, err
	}
	if user != nil {
		return user.ID, nil
	}

	user, err = s.repo.Create(username, "")
	if err != nil {
		return 0, err
	}

	if _, err := s.portfolios.Create(user.ID, "Default", domain.VisibilityPrivate, s.startingCash); err != nil {
		return 0, fmt.Errorf("failed to create default portfolio for %s: %w", username, err)
	}

	s.log.Info().
		Str("username", username).
		Int64("user_id", user.ID).
		Str("starting_cash", s.startingCash.String()).
		Msg("Provisioned new user with default portfolio")

	return user.ID, nil
}

// Get returns a user by ID
func (s *Service) Get(id int64) (*domain.User, error) {
	return s.repo.Get(id)
}
