package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/pipedesk/dealscore/internal/domain"
)

// Compute derives the full confidence breakdown for a deal as of a given
// instant. It is a pure function: no I/O, no wall-clock reads, and identical
// inputs always yield an identical breakdown.
func Compute(deal *domain.Deal, asOf time.Time, cfg *Config) (*domain.Breakdown, error) {
	if cfg == nil {
		return nil, &ConfigError{Field: "config", Reason: "nil"}
	}

	bd := &domain.Breakdown{
		State:         deal.State,
		ComputedAt:    asOf,
		ConfigVersion: cfg.Version,
		Bonuses:       []domain.ScoreLine{},
		Penalties:     []domain.ScoreLine{},
	}

	// Terminal override: score pinned, nothing else evaluated
	switch deal.State {
	case domain.StateAccepted:
		bd.FinalScore = 100
		bd.Pinned = true
		return bd, nil
	case domain.StateClosedLost:
		bd.FinalScore = 0
		bd.Pinned = true
		return bd, nil
	}

	base, err := baseScore(deal, cfg)
	if err != nil {
		return nil, err
	}
	bd.Base = base

	mult, ok := cfg.TierMultipliers[deal.Tier]
	if !ok {
		return nil, &ConfigError{Field: "tier_multipliers." + string(deal.Tier), Reason: "missing"}
	}
	bd.TierMultiplier = mult
	bd.TierAdjustedBase = base * mult

	bd.Bonuses = bonuses(deal, asOf, cfg)
	for _, b := range bd.Bonuses {
		bd.BonusTotal += b.Points
	}

	// Snoozed deals keep base and bonuses but accrue no time penalties
	snoozed := deal.State == domain.StateSnoozed &&
		(deal.SnoozedUntil == nil || asOf.Before(*deal.SnoozedUntil))
	if !snoozed {
		bd.Penalties = penalties(deal, asOf, cfg)
		for _, p := range bd.Penalties {
			bd.PenaltyTotal += p.Points
		}
	}

	raw := bd.TierAdjustedBase + bd.BonusTotal - bd.PenaltyTotal
	bd.FinalScore = clamp(int(math.Round(raw)), 0, 100)
	return bd, nil
}

// baseScore is the weighted average of the four call-score factors mapped
// through the config value tables, or the configured default when no call
// score has ever been entered.
func baseScore(deal *domain.Deal, cfg *Config) (float64, error) {
	cs := deal.CallScore
	if cs == nil {
		return cfg.DefaultBase, nil
	}

	sum := 0.0
	for _, f := range []struct {
		name   string
		factor Factor
		value  string
	}{
		{"budget_clarity", cfg.Factors.BudgetClarity, cs.BudgetClarity},
		{"competition", cfg.Factors.Competition, cs.Competition},
		{"engagement", cfg.Factors.Engagement, cs.Engagement},
		{"plan_fit", cfg.Factors.PlanFit, cs.PlanFit},
	} {
		frac, ok := f.factor.Values[f.value]
		if !ok {
			return 0, &ConfigError{
				Field:  "factors." + f.name + ".values",
				Reason: fmt.Sprintf("no mapping for %q", f.value),
			}
		}
		sum += f.factor.Weight * frac
	}
	return sum * 100, nil
}

// bonuses itemizes milestone and quick-response bonuses. Milestone bonuses
// are monotonic: a reached milestone keeps earning its points.
func bonuses(deal *domain.Deal, asOf time.Time, cfg *Config) []domain.ScoreLine {
	lines := []domain.ScoreLine{}

	milestoneSum := 0.0
	if reached(deal.FirstEmailOpenedAt, asOf) {
		milestoneSum += cfg.Milestones.EmailOpened
		lines = append(lines, domain.ScoreLine{Name: "milestone_email_opened", Points: cfg.Milestones.EmailOpened})
	}
	if reached(deal.FirstProposalViewedAt, asOf) {
		milestoneSum += cfg.Milestones.ProposalViewed
		lines = append(lines, domain.ScoreLine{Name: "milestone_proposal_viewed", Points: cfg.Milestones.ProposalViewed})
	}
	if reached(deal.FirstAccountCreatedAt, asOf) {
		milestoneSum += cfg.Milestones.AccountCreated
		lines = append(lines, domain.ScoreLine{Name: "milestone_account_created", Points: cfg.Milestones.AccountCreated})
	}
	if over := milestoneSum - cfg.Milestones.Cap; over > 0 {
		lines = append(lines, domain.ScoreLine{Name: "milestone_cap", Points: -over})
	}

	if deal.SentAt != nil && deal.FirstInboundAt != nil && !deal.FirstInboundAt.After(asOf) {
		elapsed := deal.FirstInboundAt.Sub(*deal.SentAt).Hours()
		if elapsed >= 0 && elapsed <= cfg.QuickResponse.WithinHours {
			lines = append(lines, domain.ScoreLine{Name: "quick_response", Points: cfg.QuickResponse.Bonus})
		}
	}

	return lines
}

// penalties itemizes the time-based penalty terms. Every clock measures from
// the later of its trigger timestamp and the deal's last reset point.
func penalties(deal *domain.Deal, asOf time.Time, cfg *Config) []domain.ScoreLine {
	lines := []domain.ScoreLine{}
	if deal.SentAt == nil {
		return lines
	}

	if !reached(deal.FirstEmailOpenedAt, asOf) {
		if pts := decay(deal.ClockStart(*deal.SentAt), asOf, cfg.Penalties.EmailNotOpened, 1); pts > 0 {
			lines = append(lines, domain.ScoreLine{Name: "email_not_opened", Points: pts})
		}
	}

	if !reached(deal.FirstProposalViewedAt, asOf) {
		if pts := decay(deal.ClockStart(*deal.SentAt), asOf, cfg.Penalties.ProposalNotViewed, 1); pts > 0 {
			lines = append(lines, domain.ScoreLine{Name: "proposal_not_viewed", Points: pts})
		}
	}

	// Silence clock resets on every inbound communication
	silenceStart := deal.ClockStart(*deal.SentAt)
	if deal.LastInboundAt != nil && deal.LastInboundAt.After(silenceStart) && !deal.LastInboundAt.After(asOf) {
		silenceStart = *deal.LastInboundAt
	}
	escalation := 1.0
	if deal.UnansweredOutbound >= cfg.Penalties.Silence.EscalationThreshold {
		escalation = cfg.Penalties.Silence.EscalationMultiplier
	}
	if pts := decay(silenceStart, asOf, cfg.Penalties.Silence.DecayPenalty, escalation); pts > 0 {
		lines = append(lines, domain.ScoreLine{Name: "silence", Points: pts})
	}

	if extra := deal.UnansweredOutbound - cfg.Penalties.FollowUp.Threshold; extra > 0 {
		pts := math.Min(float64(extra)*cfg.Penalties.FollowUp.PerMessage, cfg.Penalties.FollowUp.Cap)
		if pts > 0 {
			lines = append(lines, domain.ScoreLine{Name: "excessive_follow_up", Points: pts})
		}
	}

	return lines
}

// decay computes rate_per_day * days past the grace deadline, capped
func decay(start, asOf time.Time, p DecayPenalty, rateMultiplier float64) float64 {
	deadline := start.Add(time.Duration(p.GraceDays * 24 * float64(time.Hour)))
	days := asOf.Sub(deadline).Hours() / 24
	if days <= 0 {
		return 0
	}
	return math.Min(days*p.RatePerDay*rateMultiplier, p.Cap)
}

func reached(t *time.Time, asOf time.Time) bool {
	return t != nil && !t.After(asOf)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
