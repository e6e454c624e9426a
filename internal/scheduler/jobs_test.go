package scheduler

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradedesk/papertrader/internal/domain"
)

type fakeRefresher struct {
	updated int
	err     error
	calls   int
}

func (f *fakeRefresher) RefreshPrices(ctx context.Context) (int, error) {
	f.calls++
	return f.updated, f.err
}

func TestRefreshQuotesJob_Run(t *testing.T) {
	refresher := &fakeRefresher{updated: 3}
	job := NewRefreshQuotesJob(refresher, zerolog.Nop())

	require.Equal(t, "refresh_quotes", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, refresher.calls)
}

func TestRefreshQuotesJob_PropagatesError(t *testing.T) {
	refresher := &fakeRefresher{err: fmt.Errorf("quote source down")}
	job := NewRefreshQuotesJob(refresher, zerolog.Nop())

	assert.Error(t, job.Run())
}

type fakeLister struct {
	portfolios []domain.Portfolio
}

func (f *fakeLister) ListAll() ([]domain.Portfolio, error) {
	return f.portfolios, nil
}

type fakeGenerator struct {
	failFor   map[int64]bool
	generated []int64
}

func (f *fakeGenerator) Generate(ctx context.Context, portfolioID int64, date string) (*domain.Report, error) {
	if f.failFor[portfolioID] {
		return nil, fmt.Errorf("no positions")
	}
	f.generated = append(f.generated, portfolioID)
	return &domain.Report{PortfolioID: portfolioID}, nil
}

func TestDailyReportsJob_ContinuesPastFailures(t *testing.T) {
	lister := &fakeLister{portfolios: []domain.Portfolio{{ID: 1}, {ID: 2}, {ID: 3}}}
	generator := &fakeGenerator{failFor: map[int64]bool{2: true}}
	job := NewDailyReportsJob(lister, generator, zerolog.Nop())

	require.Equal(t, "daily_reports", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, []int64{1, 3}, generator.generated)
}
