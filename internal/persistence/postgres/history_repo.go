package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/persistence"
)

// historyRepo implements the append-only HistoryRepo for PostgreSQL
type historyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHistoryRepo creates a new PostgreSQL score history repository
func NewHistoryRepo(db *sqlx.DB, timeout time.Duration) persistence.HistoryRepo {
	return &historyRepo{
		db:      db,
		timeout: timeout,
	}
}

// Append adds one immutable score-change record
func (r *historyRepo) Append(ctx context.Context, entry domain.HistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	breakdownJSON, err := json.Marshal(entry.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	query := `
		INSERT INTO score_history (id, deal_id, computed_at, trigger, state, breakdown)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.DealID, entry.ComputedAt, entry.Trigger, entry.State, breakdownJSON)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate history entry: %w", err)
		}
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return nil
}

// ListForDeal retrieves a deal's history in chronological order
func (r *historyRepo) ListForDeal(ctx context.Context, dealID string) ([]domain.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, deal_id, computed_at, trigger, state, breakdown, created_at
		FROM score_history
		WHERE deal_id = $1
		ORDER BY computed_at`

	rows, err := r.db.QueryxContext(ctx, query, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		var breakdownJSON []byte
		if err := rows.Scan(&entry.ID, &entry.DealID, &entry.ComputedAt,
			&entry.Trigger, &entry.State, &breakdownJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if err := json.Unmarshal(breakdownJSON, &entry.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breakdown: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return entries, nil
}
