package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pipedesk/dealscore/internal/domain"
)

// Violation reports an illegal state transition. The deal is left untouched
// and no ledger entry is written.
type Violation struct {
	DealID string
	From   domain.LifecycleState
	Op     string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("lifecycle violation on deal %s: %s from %s: %s", v.DealID, v.Op, v.From, v.Reason)
}

func violation(d *domain.Deal, op, reason string) *Violation {
	return &Violation{DealID: d.ID, From: d.State, Op: op, Reason: reason}
}

func audit(d *domain.Deal, kind domain.AuditKind, actor, detail string, at time.Time) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:     uuid.NewString(),
		DealID: d.ID,
		Kind:   kind,
		Actor:  actor,
		Detail: detail,
		At:     at,
	}
}

// Snooze suppresses penalty accrual until a future date. Clocks are not
// reset, only frozen for the duration.
func Snooze(d *domain.Deal, until time.Time, reason, actor string, at time.Time) (*domain.AuditEntry, error) {
	if d.State != domain.StateActive {
		return nil, violation(d, "snooze", "only active deals can be snoozed")
	}
	if !until.After(at) {
		return nil, violation(d, "snooze", "snoozed_until must be in the future")
	}

	d.State = domain.StateSnoozed
	d.SnoozedUntil = &until
	d.SnoozeReason = reason
	d.UpdatedAt = at

	detail := fmt.Sprintf("until %s", until.Format(time.RFC3339))
	if reason != "" {
		detail += ": " + reason
	}
	return audit(d, domain.AuditSnoozed, actor, detail, at), nil
}

// Unsnooze wakes a snoozed deal immediately, resetting every penalty clock to
// the transition instant.
func Unsnooze(d *domain.Deal, actor string, at time.Time) (*domain.AuditEntry, error) {
	if d.State != domain.StateSnoozed {
		return nil, violation(d, "unsnooze", "deal is not snoozed")
	}
	wake(d, at)
	return audit(d, domain.AuditUnsnoozed, actor, "manual", at), nil
}

// WakeIfExpired applies the lazy Snoozed->Active transition: evaluated at
// each recalculation rather than by a timer. Returns the audit entry when the
// snooze window has elapsed.
func WakeIfExpired(d *domain.Deal, at time.Time) (*domain.AuditEntry, bool) {
	if d.State != domain.StateSnoozed || d.SnoozedUntil == nil || at.Before(*d.SnoozedUntil) {
		return nil, false
	}
	wake(d, at)
	return audit(d, domain.AuditUnsnoozed, "system", "snooze window elapsed", at), true
}

func wake(d *domain.Deal, at time.Time) {
	d.State = domain.StateActive
	d.SnoozedUntil = nil
	d.SnoozeReason = ""
	// Fresh decay runway, not a resumed frozen clock
	reset := at
	d.ClocksResetAt = &reset
	d.UpdatedAt = at
}

// Archive removes a deal from the pipeline with a reason from the fixed set.
// The last score and full history are retained.
func Archive(d *domain.Deal, reason domain.ArchiveReason, notes, actor string, at time.Time) (*domain.AuditEntry, error) {
	if d.State != domain.StateActive && d.State != domain.StateSnoozed {
		return nil, violation(d, "archive", "only active or snoozed deals can be archived")
	}
	if !reason.Valid() {
		return nil, violation(d, "archive", fmt.Sprintf("unknown archive reason %q", reason))
	}
	if reason.RequiresNotes() && notes == "" {
		return nil, violation(d, "archive", fmt.Sprintf("reason %q requires notes", reason))
	}

	d.State = domain.StateArchived
	archived := at
	d.ArchivedAt = &archived
	d.ArchiveReason = reason
	d.ArchiveNotes = notes
	d.SnoozedUntil = nil
	d.SnoozeReason = ""
	d.UpdatedAt = at

	detail := string(reason)
	if notes != "" {
		detail += ": " + notes
	}
	return audit(d, domain.AuditArchived, actor, detail, at), nil
}

// Revive returns an archived deal to active scoring. Identity, call-score
// inputs and earned milestones are preserved; every penalty clock resets to
// the revival instant.
func Revive(d *domain.Deal, actor string, at time.Time) (*domain.AuditEntry, error) {
	if d.State != domain.StateArchived {
		return nil, violation(d, "revive", "only archived deals can be revived")
	}

	d.State = domain.StateActive
	revived := at
	d.RevivedAt = &revived
	reset := at
	d.ClocksResetAt = &reset
	d.ArchivedAt = nil
	d.ArchiveReason = ""
	d.ArchiveNotes = ""
	d.UpdatedAt = at

	return audit(d, domain.AuditRevived, actor, "", at), nil
}

// SetTerminal moves a deal to accepted or closed_lost. Terminal states have
// no outbound transitions through the engine.
func SetTerminal(d *domain.Deal, target domain.LifecycleState, actor string, at time.Time) (*domain.AuditEntry, error) {
	if target != domain.StateAccepted && target != domain.StateClosedLost {
		return nil, violation(d, "set_terminal", fmt.Sprintf("%q is not a terminal state", target))
	}
	if d.State != domain.StateActive && d.State != domain.StateSnoozed {
		return nil, violation(d, "set_terminal", "only active or snoozed deals can be closed")
	}

	d.State = target
	d.SnoozedUntil = nil
	d.SnoozeReason = ""
	d.UpdatedAt = at

	kind := domain.AuditAccepted
	if target == domain.StateClosedLost {
		kind = domain.AuditClosedLost
	}
	return audit(d, kind, actor, "", at), nil
}

// RecordFact appends a non-transition audit fact (call score changed, item
// added or removed, declined, purchased) without touching the state.
func RecordFact(d *domain.Deal, kind domain.AuditKind, actor, detail string, at time.Time) *domain.AuditEntry {
	return audit(d, kind, actor, detail, at)
}
