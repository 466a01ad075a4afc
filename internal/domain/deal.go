package domain

import "time"

// LifecycleState represents the stored lifecycle state of a deal
type LifecycleState string

const (
	StateActive     LifecycleState = "active"
	StateSnoozed    LifecycleState = "snoozed"
	StateArchived   LifecycleState = "archived"
	StateAccepted   LifecycleState = "accepted"
	StateClosedLost LifecycleState = "closed_lost"
)

// Terminal reports whether the state pins the score and blocks recalculation
func (s LifecycleState) Terminal() bool {
	return s == StateAccepted || s == StateClosedLost
}

// InPipeline reports whether deals in this state count toward pipeline aggregates
func (s LifecycleState) InPipeline() bool {
	return s == StateActive || s == StateSnoozed
}

// Valid reports whether s is one of the five stored states
func (s LifecycleState) Valid() bool {
	switch s {
	case StateActive, StateSnoozed, StateArchived, StateAccepted, StateClosedLost:
		return true
	}
	return false
}

// Tier is the predicted deal tier, affecting the score multiplier
type Tier string

const (
	TierGood   Tier = "good"
	TierBetter Tier = "better"
	TierBest   Tier = "best"
)

// ArchiveReason is the fixed set of reasons accepted when archiving a deal
type ArchiveReason string

const (
	ArchiveWentDark       ArchiveReason = "went_dark"
	ArchiveCompetitor     ArchiveReason = "chose_competitor"
	ArchiveBadTiming      ArchiveReason = "bad_timing"
	ArchiveNoBudget       ArchiveReason = "no_budget"
	ArchiveNotAFit        ArchiveReason = "not_a_fit"
	ArchiveOther          ArchiveReason = "other"
)

// Valid reports whether r is one of the enumerated archive reasons
func (r ArchiveReason) Valid() bool {
	switch r {
	case ArchiveWentDark, ArchiveCompetitor, ArchiveBadTiming, ArchiveNoBudget, ArchiveNotAFit, ArchiveOther:
		return true
	}
	return false
}

// RequiresNotes reports whether free-text notes are mandatory for this reason
func (r ArchiveReason) RequiresNotes() bool {
	return r == ArchiveOther
}

// CallScore holds the four discovery-call factors. Set at most once per call,
// overwritable on a later call.
type CallScore struct {
	BudgetClarity string    `json:"budget_clarity" db:"budget_clarity"`
	Competition   string    `json:"competition" db:"competition"`
	Engagement    string    `json:"engagement" db:"engagement"`
	PlanFit       string    `json:"plan_fit" db:"plan_fit"`
	EnteredAt     time.Time `json:"entered_at" db:"entered_at"`
}

// Deal is one open sales opportunity. The engine owns its score and lifecycle
// fields; identity, monetary terms and communication timestamps come from
// external collaborators.
type Deal struct {
	ID       string `json:"id" db:"id"`
	ClientID string `json:"client_id" db:"client_id"`
	RepID    string `json:"rep_id" db:"rep_id"`

	Tier      Tier       `json:"tier" db:"tier"`
	CallScore *CallScore `json:"call_score,omitempty"`

	// Milestones, set-once, nullable
	SentAt                *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	FirstEmailOpenedAt    *time.Time `json:"first_email_opened_at,omitempty" db:"first_email_opened_at"`
	FirstProposalViewedAt *time.Time `json:"first_proposal_viewed_at,omitempty" db:"first_proposal_viewed_at"`
	FirstAccountCreatedAt *time.Time `json:"first_account_created_at,omitempty" db:"first_account_created_at"`

	// Communication ledger snapshot
	FirstInboundAt     *time.Time `json:"first_inbound_at,omitempty" db:"first_inbound_at"`
	LastInboundAt      *time.Time `json:"last_inbound_at,omitempty" db:"last_inbound_at"`
	LastOutboundAt     *time.Time `json:"last_outbound_at,omitempty" db:"last_outbound_at"`
	UnansweredOutbound int        `json:"unanswered_outbound" db:"unanswered_outbound"`

	State         LifecycleState `json:"state" db:"state"`
	SnoozedUntil  *time.Time     `json:"snoozed_until,omitempty" db:"snoozed_until"`
	SnoozeReason  string         `json:"snooze_reason,omitempty" db:"snooze_reason"`
	ArchivedAt    *time.Time     `json:"archived_at,omitempty" db:"archived_at"`
	ArchiveReason ArchiveReason  `json:"archive_reason,omitempty" db:"archive_reason"`
	ArchiveNotes  string         `json:"archive_notes,omitempty" db:"archive_notes"`
	RevivedAt     *time.Time     `json:"revived_at,omitempty" db:"revived_at"`

	// ClocksResetAt is the last point every penalty clock was reset to:
	// set on revival and on snooze expiry.
	ClocksResetAt *time.Time `json:"clocks_reset_at,omitempty" db:"clocks_reset_at"`

	Score         int        `json:"score" db:"score"`
	ScoredAt      *time.Time `json:"scored_at,omitempty" db:"scored_at"`
	LastBreakdown *Breakdown `json:"last_breakdown,omitempty"`

	MonthlyValue float64 `json:"monthly_value" db:"monthly_value"`
	OnetimeValue float64 `json:"onetime_value" db:"onetime_value"`

	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ClockStart returns the effective start of a penalty clock triggered at t,
// accounting for the deal's last reset point.
func (d *Deal) ClockStart(t time.Time) time.Time {
	if d.ClocksResetAt != nil && d.ClocksResetAt.After(t) {
		return *d.ClocksResetAt
	}
	return t
}
