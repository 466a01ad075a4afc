package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/lifecycle"
	"github.com/pipedesk/dealscore/internal/persistence"
	"github.com/pipedesk/dealscore/internal/scoring"
	"github.com/pipedesk/dealscore/internal/telemetry"
)

// RecalcError reports a failed recalculation for one deal. It is confined to
// that deal: the sweep aggregates it into diagnostics instead of propagating.
type RecalcError struct {
	DealID string
	Stage  string
	Err    error
}

func (e *RecalcError) Error() string {
	return fmt.Sprintf("recalculation failed for deal %s at %s: %v", e.DealID, e.Stage, e.Err)
}

func (e *RecalcError) Unwrap() error { return e.Err }

// ScoreEvent describes one applied score or state change
type ScoreEvent struct {
	DealID   string                `json:"deal_id"`
	Score    int                   `json:"score"`
	Previous int                   `json:"previous"`
	State    domain.LifecycleState `json:"state"`
	Trigger  domain.Trigger        `json:"trigger"`
	At       time.Time             `json:"at"`
}

// EventSink receives applied score changes. Sinks must not block: delivery is
// fire-and-forget relative to the write that produced the event.
type EventSink interface {
	ScoreChanged(evt ScoreEvent)
}

// Invalidator drops derived read-side state after an applied change
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Orchestrator drives recalculation for single deals and nightly sweeps
type Orchestrator struct {
	repo         *persistence.Repository
	cfg          *scoring.Config
	clock        func() time.Time
	limiter      *rate.Limiter
	sinks        []EventSink
	invalidators []Invalidator
	metrics      *telemetry.MetricsRegistry
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the wall clock, primarily for tests and replay
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithSink registers an event sink for applied score changes
func WithSink(s EventSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, s) }
}

// WithInvalidator registers a read-side cache to drop on applied changes
func WithInvalidator(inv Invalidator) Option {
	return func(o *Orchestrator) { o.invalidators = append(o.invalidators, inv) }
}

// WithSweepRate throttles sweep recalculations to n per second
func WithSweepRate(perSecond float64) Option {
	return func(o *Orchestrator) {
		if perSecond > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// New creates an Orchestrator. The scoring configuration is validated up
// front: an inconsistent config could silently corrupt every score.
func New(repo *persistence.Repository, cfg *scoring.Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		repo:    repo,
		cfg:     cfg,
		clock:   time.Now,
		metrics: telemetry.Get(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the scoring configuration in force
func (o *Orchestrator) Config() *scoring.Config { return o.cfg }

// Recalculate recomputes one deal's score immediately. Idempotent: with no
// intervening event the second call changes nothing and appends no history.
func (o *Orchestrator) Recalculate(ctx context.Context, dealID string, trigger domain.Trigger) (*domain.Breakdown, error) {
	bd, _, err := o.recalcOne(ctx, dealID, trigger)
	return bd, err
}

// recalcOne performs a single read-compute-apply cycle for one deal.
// Returns applied=false when nothing changed or a concurrent writer won.
func (o *Orchestrator) recalcOne(ctx context.Context, dealID string, trigger domain.Trigger) (*domain.Breakdown, bool, error) {
	timer := o.metrics.StartRecalcTimer(string(trigger))

	deal, err := o.repo.Deals.Get(ctx, dealID)
	if err != nil {
		timer.Stop("error")
		o.metrics.RecordRecalcError("load")
		return nil, false, &RecalcError{DealID: dealID, Stage: "load", Err: err}
	}

	asOf := o.clock()

	// Lazy Snoozed->Active transition, evaluated here instead of by a timer
	wakeAudit, woke := lifecycle.WakeIfExpired(deal, asOf)

	bd, err := scoring.Compute(deal, asOf, o.cfg)
	if err != nil {
		timer.Stop("error")
		o.metrics.RecordRecalcError("compute")
		return nil, false, &RecalcError{DealID: dealID, Stage: "compute", Err: err}
	}

	changed := woke || deal.ScoredAt == nil || bd.FinalScore != deal.Score
	if !changed {
		timer.Stop("skipped")
		return bd, false, nil
	}

	previous := deal.Score
	deal.Score = bd.FinalScore
	deal.ScoredAt = &asOf
	deal.LastBreakdown = bd

	if err := o.repo.Deals.Update(ctx, deal); err != nil {
		if err == persistence.ErrVersionConflict {
			// A concurrent recalculation won the write. Recomputation is
			// idempotent, so the losing result is simply discarded.
			log.Warn().Str("deal_id", dealID).Msg("Recalculation lost optimistic-lock race, result discarded")
			timer.Stop("discarded")
			return bd, false, nil
		}
		timer.Stop("error")
		o.metrics.RecordRecalcError("persist")
		return nil, false, &RecalcError{DealID: dealID, Stage: "persist", Err: err}
	}

	o.appendHistory(ctx, deal, bd, trigger, asOf)
	if woke {
		o.appendAudit(ctx, wakeAudit)
		o.metrics.RecordTransition(string(domain.AuditUnsnoozed))
	}

	o.afterApply(ctx, ScoreEvent{
		DealID:   deal.ID,
		Score:    deal.Score,
		Previous: previous,
		State:    deal.State,
		Trigger:  trigger,
		At:       asOf,
	})

	log.Info().
		Str("deal_id", deal.ID).
		Int("score", deal.Score).
		Int("previous", previous).
		Str("state", string(deal.State)).
		Str("trigger", string(trigger)).
		Msg("Confidence score updated")

	timer.Stop("applied")
	return bd, true, nil
}

// appendHistory writes one ledger entry. A failed append never rolls back the
// score update: losing an audit row is less severe than losing correctness.
func (o *Orchestrator) appendHistory(ctx context.Context, deal *domain.Deal, bd *domain.Breakdown, trigger domain.Trigger, asOf time.Time) {
	entry := domain.HistoryEntry{
		ID:         uuid.NewString(),
		DealID:     deal.ID,
		ComputedAt: asOf,
		Trigger:    trigger,
		State:      deal.State,
		Breakdown:  *bd,
	}
	if err := o.repo.History.Append(ctx, entry); err != nil {
		o.metrics.LoggingFailures.Inc()
		log.Warn().Err(err).Str("deal_id", deal.ID).Msg("History append failed, score update kept")
	}
}

func (o *Orchestrator) appendAudit(ctx context.Context, entry *domain.AuditEntry) {
	if entry == nil {
		return
	}
	if err := o.repo.Audit.Append(ctx, *entry); err != nil {
		o.metrics.LoggingFailures.Inc()
		log.Warn().Err(err).Str("deal_id", entry.DealID).Msg("Audit append failed, transition kept")
	}
}

func (o *Orchestrator) afterApply(ctx context.Context, evt ScoreEvent) {
	for _, inv := range o.invalidators {
		if err := inv.Invalidate(ctx); err != nil {
			log.Warn().Err(err).Msg("Cache invalidation failed")
		}
	}
	for _, sink := range o.sinks {
		sink.ScoreChanged(evt)
	}
}

// GetScore returns the persisted breakdown, or computes one on the fly for a
// deal that has never been scored. Never writes.
func (o *Orchestrator) GetScore(ctx context.Context, dealID string) (*domain.Breakdown, error) {
	deal, err := o.repo.Deals.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.LastBreakdown != nil {
		return deal.LastBreakdown, nil
	}
	return scoring.Compute(deal, o.clock(), o.cfg)
}

// GetHistory returns the chronological score history for a deal
func (o *Orchestrator) GetHistory(ctx context.Context, dealID string) ([]domain.HistoryEntry, error) {
	return o.repo.History.ListForDeal(ctx, dealID)
}

// GetAudit returns the chronological audit trail for a deal
func (o *Orchestrator) GetAudit(ctx context.Context, dealID string) ([]domain.AuditEntry, error) {
	return o.repo.Audit.ListForDeal(ctx, dealID)
}
