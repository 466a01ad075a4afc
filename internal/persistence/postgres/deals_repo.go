package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/persistence"
)

// dealsRepo implements DealRepo for PostgreSQL
type dealsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDealsRepo creates a new PostgreSQL deals repository
func NewDealsRepo(db *sqlx.DB, timeout time.Duration) persistence.DealRepo {
	return &dealsRepo{
		db:      db,
		timeout: timeout,
	}
}

const dealColumns = `
	id, client_id, rep_id, tier, call_score,
	sent_at, first_email_opened_at, first_proposal_viewed_at, first_account_created_at,
	first_inbound_at, last_inbound_at, last_outbound_at, unanswered_outbound,
	state, snoozed_until, snooze_reason, archived_at, archive_reason, archive_notes,
	revived_at, clocks_reset_at, score, scored_at, last_breakdown,
	monthly_value, onetime_value, version, created_at, updated_at`

// Get retrieves one deal by id
func (r *dealsRepo) Get(ctx context.Context, id string) (*domain.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + dealColumns + `
		FROM deals
		WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, query, id)
	deal, err := scanDeal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return deal, nil
}

// Insert adds a new deal record
func (r *dealsRepo) Insert(ctx context.Context, deal *domain.Deal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	callScoreJSON, breakdownJSON, err := marshalDealJSON(deal)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deals (
			id, client_id, rep_id, tier, call_score,
			sent_at, first_email_opened_at, first_proposal_viewed_at, first_account_created_at,
			first_inbound_at, last_inbound_at, last_outbound_at, unanswered_outbound,
			state, snoozed_until, snooze_reason, archived_at, archive_reason, archive_notes,
			revived_at, clocks_reset_at, score, scored_at, last_breakdown,
			monthly_value, onetime_value, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, 1
		)
		RETURNING created_at, updated_at`

	err = r.db.QueryRowxContext(ctx, query,
		deal.ID, deal.ClientID, deal.RepID, deal.Tier, callScoreJSON,
		deal.SentAt, deal.FirstEmailOpenedAt, deal.FirstProposalViewedAt, deal.FirstAccountCreatedAt,
		deal.FirstInboundAt, deal.LastInboundAt, deal.LastOutboundAt, deal.UnansweredOutbound,
		deal.State, deal.SnoozedUntil, deal.SnoozeReason, deal.ArchivedAt, nullableReason(deal.ArchiveReason), deal.ArchiveNotes,
		deal.RevivedAt, deal.ClocksResetAt, deal.Score, deal.ScoredAt, breakdownJSON,
		deal.MonthlyValue, deal.OnetimeValue).
		Scan(&deal.CreatedAt, &deal.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate deal: %w", err)
		}
		return fmt.Errorf("failed to insert deal: %w", err)
	}
	deal.Version = 1
	return nil
}

// Update writes the deal guarded by its version column. A zero-row update
// means another writer won the race: the caller's result is discarded.
func (r *dealsRepo) Update(ctx context.Context, deal *domain.Deal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	callScoreJSON, breakdownJSON, err := marshalDealJSON(deal)
	if err != nil {
		return err
	}

	query := `
		UPDATE deals SET
			tier = $1, call_score = $2,
			sent_at = $3, first_email_opened_at = $4, first_proposal_viewed_at = $5, first_account_created_at = $6,
			first_inbound_at = $7, last_inbound_at = $8, last_outbound_at = $9, unanswered_outbound = $10,
			state = $11, snoozed_until = $12, snooze_reason = $13,
			archived_at = $14, archive_reason = $15, archive_notes = $16,
			revived_at = $17, clocks_reset_at = $18,
			score = $19, scored_at = $20, last_breakdown = $21,
			monthly_value = $22, onetime_value = $23,
			version = version + 1, updated_at = NOW()
		WHERE id = $24 AND version = $25`

	result, err := r.db.ExecContext(ctx, query,
		deal.Tier, callScoreJSON,
		deal.SentAt, deal.FirstEmailOpenedAt, deal.FirstProposalViewedAt, deal.FirstAccountCreatedAt,
		deal.FirstInboundAt, deal.LastInboundAt, deal.LastOutboundAt, deal.UnansweredOutbound,
		deal.State, deal.SnoozedUntil, deal.SnoozeReason,
		deal.ArchivedAt, nullableReason(deal.ArchiveReason), deal.ArchiveNotes,
		deal.RevivedAt, deal.ClocksResetAt,
		deal.Score, deal.ScoredAt, breakdownJSON,
		deal.MonthlyValue, deal.OnetimeValue,
		deal.ID, deal.Version)
	if err != nil {
		return fmt.Errorf("failed to update deal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return persistence.ErrVersionConflict
	}

	deal.Version++
	return nil
}

// ListByState retrieves all deals in any of the given states
func (r *dealsRepo) ListByState(ctx context.Context, states ...domain.LifecycleState) ([]domain.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + dealColumns + `
		FROM deals
		WHERE state = ANY($1)
		ORDER BY created_at`

	rows, err := r.db.QueryxContext(ctx, query, pq.Array(stateStrings(states)))
	if err != nil {
		return nil, fmt.Errorf("failed to query deals by state: %w", err)
	}
	defer rows.Close()

	var deals []domain.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *deal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deal rows: %w", err)
	}
	return deals, nil
}

// ListIDsByState retrieves deal ids in any of the given states
func (r *dealsRepo) ListIDsByState(ctx context.Context, states ...domain.LifecycleState) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id
		FROM deals
		WHERE state = ANY($1)
		ORDER BY created_at`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, pq.Array(stateStrings(states))); err != nil {
		return nil, fmt.Errorf("failed to query deal ids by state: %w", err)
	}
	return ids, nil
}

// Helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeal(row rowScanner) (*domain.Deal, error) {
	var deal domain.Deal
	var callScoreJSON, breakdownJSON []byte
	var archiveReason sql.NullString

	err := row.Scan(
		&deal.ID, &deal.ClientID, &deal.RepID, &deal.Tier, &callScoreJSON,
		&deal.SentAt, &deal.FirstEmailOpenedAt, &deal.FirstProposalViewedAt, &deal.FirstAccountCreatedAt,
		&deal.FirstInboundAt, &deal.LastInboundAt, &deal.LastOutboundAt, &deal.UnansweredOutbound,
		&deal.State, &deal.SnoozedUntil, &deal.SnoozeReason, &deal.ArchivedAt, &archiveReason, &deal.ArchiveNotes,
		&deal.RevivedAt, &deal.ClocksResetAt, &deal.Score, &deal.ScoredAt, &breakdownJSON,
		&deal.MonthlyValue, &deal.OnetimeValue, &deal.Version, &deal.CreatedAt, &deal.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if archiveReason.Valid {
		deal.ArchiveReason = domain.ArchiveReason(archiveReason.String)
	}
	if len(callScoreJSON) > 0 {
		var cs domain.CallScore
		if err := json.Unmarshal(callScoreJSON, &cs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal call score: %w", err)
		}
		deal.CallScore = &cs
	}
	if len(breakdownJSON) > 0 {
		var bd domain.Breakdown
		if err := json.Unmarshal(breakdownJSON, &bd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breakdown: %w", err)
		}
		deal.LastBreakdown = &bd
	}

	return &deal, nil
}

func marshalDealJSON(deal *domain.Deal) ([]byte, []byte, error) {
	var callScoreJSON, breakdownJSON []byte
	var err error

	if deal.CallScore != nil {
		callScoreJSON, err = json.Marshal(deal.CallScore)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal call score: %w", err)
		}
	}
	if deal.LastBreakdown != nil {
		breakdownJSON, err = json.Marshal(deal.LastBreakdown)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal breakdown: %w", err)
		}
	}
	return callScoreJSON, breakdownJSON, nil
}

func nullableReason(r domain.ArchiveReason) interface{} {
	if r == "" {
		return nil
	}
	return string(r)
}

func stateStrings(states []domain.LifecycleState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
