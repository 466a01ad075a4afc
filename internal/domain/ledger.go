package domain

import "time"

// ScoreLine is one itemized bonus or penalty in a breakdown
type ScoreLine struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

// Breakdown is the full explanation of one computed confidence score.
// History entries persist it verbatim so a score can be explained without
// recomputation under a config that may since have changed.
type Breakdown struct {
	Base             float64     `json:"base"`
	TierMultiplier   float64     `json:"tier_multiplier"`
	TierAdjustedBase float64     `json:"tier_adjusted_base"`
	Bonuses          []ScoreLine `json:"bonuses"`
	BonusTotal       float64     `json:"bonus_total"`
	Penalties        []ScoreLine `json:"penalties"`
	PenaltyTotal     float64     `json:"penalty_total"`
	FinalScore       int         `json:"final_score"`
	Pinned           bool        `json:"pinned"`

	State         LifecycleState `json:"state"`
	ComputedAt    time.Time      `json:"computed_at"`
	ConfigVersion string         `json:"config_version"`
}

// Trigger identifies what caused a recalculation
type Trigger string

const (
	TriggerCallScore     Trigger = "call_score"
	TriggerMilestone     Trigger = "milestone"
	TriggerCommunication Trigger = "communication"
	TriggerLifecycle     Trigger = "lifecycle"
	TriggerSweep         Trigger = "sweep"
	TriggerManual        Trigger = "manual"
)

// HistoryEntry is one immutable score-change record. Created exactly once per
// recalculation that changed the persisted score or state.
type HistoryEntry struct {
	ID         string         `json:"id" db:"id"`
	DealID     string         `json:"deal_id" db:"deal_id"`
	ComputedAt time.Time      `json:"computed_at" db:"computed_at"`
	Trigger    Trigger        `json:"trigger" db:"trigger"`
	State      LifecycleState `json:"state" db:"state"`
	Breakdown  Breakdown      `json:"breakdown"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// AuditKind classifies non-score lifecycle facts
type AuditKind string

const (
	AuditCallScoreChanged AuditKind = "call_score_changed"
	AuditItemAdded        AuditKind = "item_added"
	AuditItemRemoved      AuditKind = "item_removed"
	AuditDeclined         AuditKind = "declined"
	AuditPurchased        AuditKind = "purchased"
	AuditSnoozed          AuditKind = "snoozed"
	AuditUnsnoozed        AuditKind = "unsnoozed"
	AuditArchived         AuditKind = "archived"
	AuditRevived          AuditKind = "revived"
	AuditAccepted         AuditKind = "accepted"
	AuditClosedLost       AuditKind = "closed_lost"
)

// AuditEntry records an accepted lifecycle fact with its actor. Appended by
// the state machine independently of whether the score changed.
type AuditEntry struct {
	ID     string    `json:"id" db:"id"`
	DealID string    `json:"deal_id" db:"deal_id"`
	Kind   AuditKind `json:"kind" db:"kind"`
	Actor  string    `json:"actor" db:"actor"`
	Detail string    `json:"detail,omitempty" db:"detail"`
	At     time.Time `json:"at" db:"at"`
}
