package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/lifecycle"
)

// Milestone names accepted by RecordMilestone
const (
	MilestoneSent           = "sent"
	MilestoneEmailOpened    = "email_opened"
	MilestoneProposalViewed = "proposal_viewed"
	MilestoneAccountCreated = "account_created"
)

// Communication directions accepted by LogCommunication
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// applyCommand runs a lifecycle mutation against the current deal snapshot,
// persists it, appends the audit entry, and triggers a recalculation. The
// recalculation is best-effort relative to the mutation: its failure is
// logged, never returned.
func (o *Orchestrator) applyCommand(ctx context.Context, dealID string, trigger domain.Trigger,
	mutate func(*domain.Deal, time.Time) (*domain.AuditEntry, error)) (*domain.Deal, error) {

	deal, err := o.repo.Deals.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}

	at := o.clock()
	entry, err := mutate(deal, at)
	if err != nil {
		return nil, err
	}

	if err := o.repo.Deals.Update(ctx, deal); err != nil {
		return nil, fmt.Errorf("failed to persist deal %s: %w", dealID, err)
	}

	if entry != nil {
		o.appendAudit(ctx, entry)
		o.metrics.RecordTransition(string(entry.Kind))
	}

	if _, err := o.Recalculate(ctx, dealID, trigger); err != nil {
		log.Warn().Err(err).Str("deal_id", dealID).Msg("Post-command recalculation failed, score is stale until next trigger")
	}

	fresh, err := o.repo.Deals.Get(ctx, dealID)
	if err != nil {
		return deal, nil
	}
	return fresh, nil
}

// Snooze freezes a deal's penalty accrual until a future date
func (o *Orchestrator) Snooze(ctx context.Context, dealID string, until time.Time, reason, actor string) (*domain.Deal, error) {
	return o.applyCommand(ctx, dealID, domain.TriggerLifecycle,
		func(d *domain.Deal, at time.Time) (*domain.AuditEntry, error) {
			return lifecycle.Snooze(d, until, reason, actor, at)
		})
}

// Unsnooze wakes a snoozed deal immediately
func (o *Orchestrator) Unsnooze(ctx context.Context, dealID, actor string) (*domain.Deal, error) {
	return o.applyCommand(ctx, dealID, domain.TriggerLifecycle,
		func(d *domain.Deal, at time.Time) (*domain.AuditEntry, error) {
			return lifecycle.Unsnooze(d, actor, at)
		})
}

// Archive removes a deal from the pipeline, keeping its score and history
func (o *Orchestrator) Archive(ctx context.Context, dealID string, reason domain.ArchiveReason, notes, actor string) (*domain.Deal, error) {
	return o.applyCommand(ctx, dealID, domain.TriggerLifecycle,
		func(d *domain.Deal, at time.Time) (*domain.AuditEntry, error) {
			return lifecycle.Archive(d, reason, notes, actor, at)
		})
}

// Revive returns an archived deal to active scoring with fresh penalty clocks
func (o *Orchestrator) Revive(ctx context.Context, dealID, actor string) (*domain.Deal, error) {
	return o.applyCommand(ctx, dealID, domain.TriggerLifecycle,
		func(d *domain.Deal, at time.Time) (*domain.AuditEntry, error) {
			return lifecycle.Revive(d, actor, at)
		})
}

// SetTerminalStatus closes a deal as accepted or closed_lost
func (o *Orchestrator) SetTerminalStatus(ctx context.Context, dealID string, target domain.LifecycleState, actor string) (*domain.Deal, error) {
	return o.applyCommand(ctx, dealID, domain.TriggerLifecycle,
		func(d *domain.Deal, at time.Time) (*domain.AuditEntry, error) {
			return lifecycle.SetTerminal(d, target, actor, at)
		})
}

// SubmitCallScore records the discovery-call factors. Overwritable on a later
// call; each submission is audited.
func (o *Orchestrator) SubmitCallScore(ctx context.Context, dealID string, cs domain.CallScore, actor string) (*domain.Deal, error) {
	return o.applyCommand(ctx, dealID, domain.TriggerCallScore,
		func(d *domain.Deal, at time.Time) (*domain.AuditEntry, error) {
			if d.State.Terminal() {
				return nil, &lifecycle.Violation{DealID: d.ID, From: d.State, Op: "call_score", Reason: "deal is closed"}
			}
			cs.EnteredAt = at
			d.CallScore = &cs
			d.UpdatedAt = at
			return lifecycle.RecordFact(d, domain.AuditCallScoreChanged, actor, "", at), nil
		})
}

// RecordMilestone sets a set-once milestone timestamp. Recording an already
// reached milestone is a no-op, keeping earned bonuses monotonic.
func (o *Orchestrator) RecordMilestone(ctx context.Context, dealID, milestone string, reachedAt time.Time) (*domain.Deal, error) {
	return o.applyCommand(ctx, dealID, domain.TriggerMilestone,
		func(d *domain.Deal, at time.Time) (*domain.AuditEntry, error) {
			var slot **time.Time
			switch milestone {
			case MilestoneSent:
				slot = &d.SentAt
			case MilestoneEmailOpened:
				slot = &d.FirstEmailOpenedAt
			case MilestoneProposalViewed:
				slot = &d.FirstProposalViewedAt
			case MilestoneAccountCreated:
				slot = &d.FirstAccountCreatedAt
			default:
				return nil, fmt.Errorf("unknown milestone %q", milestone)
			}
			if *slot == nil {
				t := reachedAt
				*slot = &t
				d.UpdatedAt = at
			}
			return nil, nil
		})
}

// LogCommunication records an inbound or outbound message. Inbound resets the
// unanswered-outbound counter and the silence clock.
func (o *Orchestrator) LogCommunication(ctx context.Context, dealID, direction string, occurredAt time.Time) (*domain.Deal, error) {
	return o.applyCommand(ctx, dealID, domain.TriggerCommunication,
		func(d *domain.Deal, at time.Time) (*domain.AuditEntry, error) {
			t := occurredAt
			switch direction {
			case DirectionInbound:
				if d.FirstInboundAt == nil {
					d.FirstInboundAt = &t
				}
				d.LastInboundAt = &t
				d.UnansweredOutbound = 0
			case DirectionOutbound:
				d.LastOutboundAt = &t
				d.UnansweredOutbound++
			default:
				return nil, fmt.Errorf("unknown communication direction %q", direction)
			}
			d.UpdatedAt = at
			return nil, nil
		})
}

// RecordAuditFact appends a non-transition audit fact such as an item added
// to a recommendation or a decline.
func (o *Orchestrator) RecordAuditFact(ctx context.Context, dealID string, kind domain.AuditKind, actor, detail string) error {
	deal, err := o.repo.Deals.Get(ctx, dealID)
	if err != nil {
		return err
	}
	entry := lifecycle.RecordFact(deal, kind, actor, detail, o.clock())
	return o.repo.Audit.Append(ctx, *entry)
}
