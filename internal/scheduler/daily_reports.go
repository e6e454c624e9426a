package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/domain"
)

// PortfolioLister provides the portfolios to snapshot
type PortfolioLister interface {
	ListAll() ([]domain.Portfolio, error)
}

// ReportGenerator produces a portfolio report for a date
type ReportGenerator interface {
	Generate(ctx context.Context, portfolioID int64, date string) (*domain.Report, error)
}

// DailyReportsJob generates an end-of-day report for every portfolio.
// A failure on one portfolio does not stop the others.
type DailyReportsJob struct {
	log        zerolog.Logger
	portfolios PortfolioLister
	reports    ReportGenerator
	timeout    time.Duration
}

// NewDailyReportsJob creates a new daily reports job
func NewDailyReportsJob(portfolios PortfolioLister, reports ReportGenerator, log zerolog.Logger) *DailyReportsJob {
	return &DailyReportsJob{
		log:        log.With().Str("job", "daily_reports").Logger(),
		portfolios: portfolios,
		reports:    reports,
		timeout:    10 * time.Minute,
	}
}

// Name returns the job name
func (j *DailyReportsJob) Name() string {
	return "daily_reports"
}

// Run generates reports for all portfolios
func (j *DailyReportsJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	all, err := j.portfolios.ListAll()
	if err != nil {
		return err
	}

	generated := 0
	failed := 0
	for _, p := range all {
		if _, err := j.reports.Generate(ctx, p.ID, ""); err != nil {
			j.log.Warn().
				Err(err).
				Int64("portfolio_id", p.ID).
				Msg("Report generation failed")
			failed++
			continue
		}
		generated++
	}

	j.log.Info().
		Int("generated", generated).
		Int("failed", failed).
		Msg("Daily report snapshots completed")
	return nil
}
