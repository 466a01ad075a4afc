package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedesk/dealscore/internal/domain"
)

var now = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

func deal(state domain.LifecycleState) *domain.Deal {
	return &domain.Deal{ID: "deal-1", State: state}
}

func TestSnooze(t *testing.T) {
	d := deal(domain.StateActive)
	until := now.AddDate(0, 0, 14)

	entry, err := Snooze(d, until, "client on vacation", "rep-7", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSnoozed, d.State)
	assert.Equal(t, until, *d.SnoozedUntil)
	assert.Nil(t, d.ClocksResetAt, "snooze must not reset penalty clocks")
	assert.Equal(t, domain.AuditSnoozed, entry.Kind)
	assert.Equal(t, "rep-7", entry.Actor)
}

func TestSnooze_Violations(t *testing.T) {
	_, err := Snooze(deal(domain.StateArchived), now.AddDate(0, 0, 7), "", "rep", now)
	var v *Violation
	require.ErrorAs(t, err, &v)

	_, err = Snooze(deal(domain.StateActive), now.Add(-time.Hour), "", "rep", now)
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "snooze", v.Op)
}

func TestWakeIfExpired(t *testing.T) {
	d := deal(domain.StateSnoozed)
	until := now.Add(-time.Hour)
	d.SnoozedUntil = &until

	entry, woke := WakeIfExpired(d, now)
	require.True(t, woke)
	assert.Equal(t, domain.StateActive, d.State)
	assert.Nil(t, d.SnoozedUntil)
	require.NotNil(t, d.ClocksResetAt)
	assert.Equal(t, now, *d.ClocksResetAt)
	assert.Equal(t, domain.AuditUnsnoozed, entry.Kind)
	assert.Equal(t, "system", entry.Actor)
}

func TestWakeIfExpired_NotYet(t *testing.T) {
	d := deal(domain.StateSnoozed)
	until := now.AddDate(0, 0, 3)
	d.SnoozedUntil = &until

	entry, woke := WakeIfExpired(d, now)
	assert.False(t, woke)
	assert.Nil(t, entry)
	assert.Equal(t, domain.StateSnoozed, d.State)
}

func TestArchive(t *testing.T) {
	d := deal(domain.StateActive)

	entry, err := Archive(d, domain.ArchiveWentDark, "", "rep-7", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateArchived, d.State)
	assert.Equal(t, domain.ArchiveWentDark, d.ArchiveReason)
	assert.Equal(t, domain.AuditArchived, entry.Kind)
}

func TestArchive_OtherRequiresNotes(t *testing.T) {
	d := deal(domain.StateActive)

	_, err := Archive(d, domain.ArchiveOther, "", "rep-7", now)
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, domain.StateActive, d.State, "rejected transition must leave the deal untouched")

	_, err = Archive(d, domain.ArchiveOther, "merged with another account", "rep-7", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateArchived, d.State)
}

func TestArchive_TerminalRejected(t *testing.T) {
	var v *Violation
	_, err := Archive(deal(domain.StateAccepted), domain.ArchiveWentDark, "", "rep", now)
	require.ErrorAs(t, err, &v)
	_, err = Archive(deal(domain.StateArchived), domain.ArchiveWentDark, "", "rep", now)
	require.ErrorAs(t, err, &v)
}

func TestRevive(t *testing.T) {
	d := deal(domain.StateArchived)
	archived := now.AddDate(0, 0, -30)
	d.ArchivedAt = &archived
	d.ArchiveReason = domain.ArchiveBadTiming
	d.CallScore = &domain.CallScore{BudgetClarity: "clear"}

	entry, err := Revive(d, "rep-7", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, d.State)
	assert.Equal(t, now, *d.RevivedAt)
	assert.Equal(t, now, *d.ClocksResetAt)
	assert.Nil(t, d.ArchivedAt)
	assert.NotNil(t, d.CallScore, "revive preserves call-score inputs")
	assert.Equal(t, domain.AuditRevived, entry.Kind)
}

func TestRevive_NonArchivedRejected(t *testing.T) {
	var v *Violation
	_, err := Revive(deal(domain.StateActive), "rep", now)
	require.ErrorAs(t, err, &v)
}

func TestSetTerminal(t *testing.T) {
	d := deal(domain.StateActive)
	entry, err := SetTerminal(d, domain.StateAccepted, "rep-7", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAccepted, d.State)
	assert.Equal(t, domain.AuditAccepted, entry.Kind)

	d = deal(domain.StateSnoozed)
	entry, err = SetTerminal(d, domain.StateClosedLost, "rep-7", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClosedLost, d.State)
	assert.Equal(t, domain.AuditClosedLost, entry.Kind)
}

func TestSetTerminal_Violations(t *testing.T) {
	var v *Violation
	_, err := SetTerminal(deal(domain.StateActive), domain.StateArchived, "rep", now)
	require.ErrorAs(t, err, &v)

	_, err = SetTerminal(deal(domain.StateAccepted), domain.StateClosedLost, "rep", now)
	require.ErrorAs(t, err, &v)
}

func TestRecordFact(t *testing.T) {
	d := deal(domain.StateActive)
	entry := RecordFact(d, domain.AuditCallScoreChanged, "rep-7", "second discovery call", now)
	assert.Equal(t, domain.AuditCallScoreChanged, entry.Kind)
	assert.Equal(t, d.ID, entry.DealID)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, domain.StateActive, d.State)
}
