package domain

import "errors"

// Sentinel errors for order policy violations. Handlers map these to
// 4xx responses; anything else is a 500.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrShortingDisabled   = errors.New("short selling is disabled")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrPortfolioNotFound  = errors.New("portfolio not found")
	ErrNoActivePortfolio  = errors.New("no active portfolio")
	ErrPriceUnavailable   = errors.New("no price available")
)
