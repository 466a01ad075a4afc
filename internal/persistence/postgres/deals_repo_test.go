package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/persistence"
)

func newMockRepo(t *testing.T) (persistence.DealRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDealsRepo(sqlx.NewDb(db, "sqlmock"), 5*time.Second), mock
}

func dealRowColumns() []string {
	return []string{
		"id", "client_id", "rep_id", "tier", "call_score",
		"sent_at", "first_email_opened_at", "first_proposal_viewed_at", "first_account_created_at",
		"first_inbound_at", "last_inbound_at", "last_outbound_at", "unanswered_outbound",
		"state", "snoozed_until", "snooze_reason", "archived_at", "archive_reason", "archive_notes",
		"revived_at", "clocks_reset_at", "score", "scored_at", "last_breakdown",
		"monthly_value", "onetime_value", "version", "created_at", "updated_at",
	}
}

func TestDealsRepo_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	callScore := []byte(`{"budget_clarity":"clear","competition":"none","engagement":"medium","plan_fit":"medium","entered_at":"2026-03-01T09:00:00Z"}`)
	breakdown := []byte(`{"base":82,"tier_multiplier":1.1,"tier_adjusted_base":90.2,"bonuses":[],"bonus_total":0,"penalties":[],"penalty_total":0,"final_score":90,"pinned":false,"state":"active","computed_at":"2026-03-11T09:00:00Z","config_version":"v1"}`)

	rows := sqlmock.NewRows(dealRowColumns()).AddRow(
		"deal-1", "client-1", "rep-7", "best", callScore,
		now.AddDate(0, 0, -10), nil, nil, nil,
		nil, nil, nil, 0,
		"active", nil, "", nil, nil, "",
		nil, nil, 90, now, breakdown,
		2500.0, 500.0, 3, now.AddDate(0, 0, -12), now,
	)

	mock.ExpectQuery(`SELECT .* FROM deals\s+WHERE id = \$1`).
		WithArgs("deal-1").
		WillReturnRows(rows)

	deal, err := repo.Get(context.Background(), "deal-1")
	require.NoError(t, err)

	assert.Equal(t, "deal-1", deal.ID)
	assert.Equal(t, domain.TierBest, deal.Tier)
	assert.Equal(t, domain.StateActive, deal.State)
	require.NotNil(t, deal.CallScore)
	assert.Equal(t, "clear", deal.CallScore.BudgetClarity)
	require.NotNil(t, deal.LastBreakdown)
	assert.Equal(t, 90, deal.LastBreakdown.FinalScore)
	assert.Equal(t, int64(3), deal.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealsRepo_GetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .* FROM deals\s+WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(dealRowColumns()))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealsRepo_UpdateVersionConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE deals SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deal := &domain.Deal{ID: "deal-1", State: domain.StateActive, Tier: domain.TierBetter, Version: 2}
	err := repo.Update(context.Background(), deal)
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)
	assert.Equal(t, int64(2), deal.Version, "losing writer must not bump its local version")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealsRepo_Update(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE deals SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deal := &domain.Deal{ID: "deal-1", State: domain.StateActive, Tier: domain.TierBetter, Version: 2}
	require.NoError(t, repo.Update(context.Background(), deal))
	assert.Equal(t, int64(3), deal.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealsRepo_ListIDsByState(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT id\s+FROM deals\s+WHERE state = ANY\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("deal-1").AddRow("deal-2"))

	ids, err := repo.ListIDsByState(context.Background(), domain.StateActive, domain.StateSnoozed)
	require.NoError(t, err)
	assert.Equal(t, []string{"deal-1", "deal-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
