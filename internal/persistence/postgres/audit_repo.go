package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/persistence"
)

// auditRepo implements the append-only AuditRepo for PostgreSQL
type auditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAuditRepo creates a new PostgreSQL audit log repository
func NewAuditRepo(db *sqlx.DB, timeout time.Duration) persistence.AuditRepo {
	return &auditRepo{
		db:      db,
		timeout: timeout,
	}
}

// Append adds one audit record
func (r *auditRepo) Append(ctx context.Context, entry domain.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO audit_log (id, deal_id, kind, actor, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.DealID, entry.Kind, entry.Actor, entry.Detail, entry.At)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListForDeal retrieves a deal's audit trail in chronological order
func (r *auditRepo) ListForDeal(ctx context.Context, dealID string) ([]domain.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, deal_id, kind, actor, detail, at
		FROM audit_log
		WHERE deal_id = $1
		ORDER BY at`

	var entries []domain.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, dealID); err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return entries, nil
}
