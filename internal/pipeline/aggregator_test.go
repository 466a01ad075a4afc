package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedesk/dealscore/internal/domain"
)

type stubDealRepo struct {
	deals []domain.Deal
	err   error
	calls int
}

func (s *stubDealRepo) Get(context.Context, string) (*domain.Deal, error) {
	return nil, errors.New("not implemented")
}

func (s *stubDealRepo) Insert(context.Context, *domain.Deal) error {
	return errors.New("not implemented")
}

func (s *stubDealRepo) Update(context.Context, *domain.Deal) error {
	return errors.New("not implemented")
}

func (s *stubDealRepo) ListByState(_ context.Context, states ...domain.LifecycleState) ([]domain.Deal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Deal
	for _, d := range s.deals {
		for _, st := range states {
			if d.State == st {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (s *stubDealRepo) ListIDsByState(context.Context, ...domain.LifecycleState) ([]string, error) {
	return nil, errors.New("not implemented")
}

func pipelineDeals() []domain.Deal {
	return []domain.Deal{
		{ID: "d1", RepID: "rep-1", State: domain.StateActive, Score: 80, MonthlyValue: 1000, OnetimeValue: 500},
		{ID: "d2", RepID: "rep-2", State: domain.StateSnoozed, Score: 50, MonthlyValue: 2000},
		{ID: "d3", RepID: "rep-1", State: domain.StateActive, Score: 0, MonthlyValue: 500, OnetimeValue: 100},
		{ID: "d4", RepID: "rep-2", State: domain.StateArchived, Score: 90, MonthlyValue: 9000},
	}
}

func TestAggregates_WeightedRollup(t *testing.T) {
	repo := &stubDealRepo{deals: pipelineDeals()}
	agg := NewAggregator(repo, nil)
	agg.clock = func() time.Time { return time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC) }

	got, err := agg.Aggregates(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, 3, got.Count, "archived deals are excluded")
	assert.Equal(t, 3500.0, got.RawMonthly)
	assert.Equal(t, 600.0, got.RawOnetime)
	assert.Equal(t, 1800.0, got.WeightedMonthly) // 800 + 1000 + 0
	assert.Equal(t, 400.0, got.WeightedOnetime)
	assert.Equal(t, 43.3, got.AvgConfidence)
	assert.Equal(t, 51.4, got.WeightedPct)
	assert.False(t, got.ComputedAt.IsZero())
}

func TestAggregates_FilterByRep(t *testing.T) {
	repo := &stubDealRepo{deals: pipelineDeals()}
	agg := NewAggregator(repo, nil)

	got, err := agg.Aggregates(context.Background(), Filter{RepID: "rep-1"})
	require.NoError(t, err)

	assert.Equal(t, 2, got.Count)
	assert.Equal(t, 1500.0, got.RawMonthly)
	assert.Equal(t, 800.0, got.WeightedMonthly)
	assert.Equal(t, 40.0, got.AvgConfidence)
}

func TestAggregates_EmptyPipeline(t *testing.T) {
	repo := &stubDealRepo{}
	agg := NewAggregator(repo, nil)

	got, err := agg.Aggregates(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Zero(t, got.Count)
	assert.Zero(t, got.AvgConfidence)
	assert.Zero(t, got.WeightedPct, "no division by a zero-value pipeline")
}

func TestAggregates_RepoError(t *testing.T) {
	repo := &stubDealRepo{err: errors.New("db down")}
	agg := NewAggregator(repo, nil)

	_, err := agg.Aggregates(context.Background(), Filter{})
	require.Error(t, err)
}
