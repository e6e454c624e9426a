package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// QuoteRefresher updates stored prices from the external quote source
type QuoteRefresher interface {
	RefreshPrices(ctx context.Context) (int, error)
}

// RefreshQuotesJob keeps cached stock prices current during trading hours
type RefreshQuotesJob struct {
	log     zerolog.Logger
	market  QuoteRefresher
	timeout time.Duration
}

// NewRefreshQuotesJob creates a new quote refresh job
func NewRefreshQuotesJob(market QuoteRefresher, log zerolog.Logger) *RefreshQuotesJob {
	return &RefreshQuotesJob{
		log:     log.With().Str("job", "refresh_quotes").Logger(),
		market:  market,
		timeout: 2 * time.Minute,
	}
}

// Name returns the job name
func (j *RefreshQuotesJob) Name() string {
	return "refresh_quotes"
}

// Run executes the quote refresh
func (j *RefreshQuotesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	updated, err := j.market.RefreshPrices(ctx)
	if err != nil {
		return err
	}

	j.log.Info().
		Int("updated", updated).
		Dur("duration", time.Since(start)).
		Msg("Quote refresh completed")
	return nil
}
