package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pipedesk/dealscore/internal/domain"
)

// Diagnostic describes one per-deal failure inside a sweep
type Diagnostic struct {
	DealID string `json:"deal_id"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

// SweepReport summarizes one daily sweep so operators can distinguish
// "nothing changed" from "something broke".
type SweepReport struct {
	Processed   int          `json:"processed"`
	Succeeded   int          `json:"succeeded"`
	Skipped     int          `json:"skipped"`
	Failed      int          `json:"failed"`
	DurationMs  int64        `json:"duration_ms"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// RunDailySweep recalculates every active and snoozed deal once. Each deal is
// independently committed or rolled back; one failing deal never poisons the
// rest. Terminal and archived deals are exempt.
func (o *Orchestrator) RunDailySweep(ctx context.Context) (*SweepReport, error) {
	start := time.Now()

	// An inconsistent config would corrupt every score: fail the sweep fast
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	ids, err := o.repo.Deals.ListIDsByState(ctx, domain.StateActive, domain.StateSnoozed)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweepable deals: %w", err)
	}

	report := &SweepReport{}
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return report, fmt.Errorf("sweep aborted: %w", err)
			}
		}

		report.Processed++
		applied, err := o.sweepOne(ctx, id)
		switch {
		case err != nil:
			report.Failed++
			diag := Diagnostic{DealID: id, Stage: "recalculate", Error: err.Error()}
			if rerr, ok := err.(*RecalcError); ok {
				diag.Stage = rerr.Stage
			}
			report.Diagnostics = append(report.Diagnostics, diag)
			o.metrics.SweepDeals.WithLabelValues("failed").Inc()
			log.Error().Err(err).Str("deal_id", id).Msg("Sweep recalculation failed")
		case applied:
			report.Succeeded++
			o.metrics.SweepDeals.WithLabelValues("succeeded").Inc()
		default:
			report.Skipped++
			o.metrics.SweepDeals.WithLabelValues("skipped").Inc()
		}
	}

	report.DurationMs = time.Since(start).Milliseconds()
	o.metrics.SweepDuration.Observe(time.Since(start).Seconds())

	log.Info().
		Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int64("duration_ms", report.DurationMs).
		Msg("Daily sweep completed")

	return report, nil
}

// sweepOne isolates one deal's recalculation, converting panics into
// per-deal failures.
func (o *Orchestrator) sweepOne(ctx context.Context, id string) (applied bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			applied = false
			err = &RecalcError{DealID: id, Stage: "panic", Err: fmt.Errorf("%v", r)}
		}
	}()
	_, applied, err = o.recalcOne(ctx, id, domain.TriggerSweep)
	return applied, err
}
