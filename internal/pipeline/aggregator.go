package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/persistence"
	"github.com/pipedesk/dealscore/internal/telemetry"
)

// Aggregates is the confidence-weighted rollup of the open pipeline.
// Only active and snoozed deals count; archived and terminal deals are out.
type Aggregates struct {
	Count           int     `json:"count"`
	RawMonthly      float64 `json:"raw_monthly"`
	RawOnetime      float64 `json:"raw_onetime"`
	WeightedMonthly float64 `json:"weighted_monthly"`
	WeightedOnetime float64 `json:"weighted_onetime"`
	AvgConfidence   float64 `json:"avg_confidence"`
	// WeightedPct is weighted monthly as a percentage of raw monthly,
	// a one-number answer to "how real is this pipeline".
	WeightedPct float64 `json:"weighted_pct"`

	ComputedAt time.Time `json:"computed_at"`
}

// Filter narrows an aggregation. The zero value means the whole pipeline.
type Filter struct {
	RepID string
}

func (f Filter) empty() bool { return f.RepID == "" }

// Aggregator computes pipeline rollups from persisted scores. It is strictly
// read-side: it never recomputes a score, only sums what the engine wrote.
type Aggregator struct {
	deals persistence.DealRepo
	cache *Cache
	clock func() time.Time
}

// NewAggregator creates an Aggregator. cache may be nil; aggregation then
// always reads through to the database.
func NewAggregator(deals persistence.DealRepo, cache *Cache) *Aggregator {
	return &Aggregator{deals: deals, cache: cache, clock: time.Now}
}

// Aggregates returns the pipeline rollup for the given filter. The unfiltered
// rollup is served from cache when possible; filtered views are cheap enough
// to compute directly.
func (a *Aggregator) Aggregates(ctx context.Context, filter Filter) (*Aggregates, error) {
	if filter.empty() && a.cache != nil {
		if agg, ok := a.cache.Get(ctx); ok {
			return agg, nil
		}
	}

	deals, err := a.deals.ListByState(ctx, domain.StateActive, domain.StateSnoozed)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline deals: %w", err)
	}

	agg := a.rollup(deals, filter)

	if filter.empty() {
		telemetry.Get().PipelineDeals.Set(float64(agg.Count))
		if a.cache != nil {
			if err := a.cache.Set(ctx, agg); err != nil {
				log.Warn().Err(err).Msg("Pipeline aggregate cache write failed")
			}
		}
	}
	return agg, nil
}

func (a *Aggregator) rollup(deals []domain.Deal, filter Filter) *Aggregates {
	agg := &Aggregates{ComputedAt: a.clock()}

	scoreSum := 0
	for _, d := range deals {
		if filter.RepID != "" && d.RepID != filter.RepID {
			continue
		}
		weight := float64(d.Score) / 100.0

		agg.Count++
		scoreSum += d.Score
		agg.RawMonthly += d.MonthlyValue
		agg.RawOnetime += d.OnetimeValue
		agg.WeightedMonthly += d.MonthlyValue * weight
		agg.WeightedOnetime += d.OnetimeValue * weight
	}

	if agg.Count > 0 {
		agg.AvgConfidence = round1(float64(scoreSum) / float64(agg.Count))
	}
	if agg.RawMonthly > 0 {
		agg.WeightedPct = round1(agg.WeightedMonthly / agg.RawMonthly * 100)
	}
	agg.WeightedMonthly = round2(agg.WeightedMonthly)
	agg.WeightedOnetime = round2(agg.WeightedOnetime)
	return agg
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
