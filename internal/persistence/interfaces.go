package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/pipedesk/dealscore/internal/domain"
)

// ErrNotFound is returned when a deal does not exist
var ErrNotFound = errors.New("deal not found")

// ErrVersionConflict is returned when an optimistic-lock update loses the
// race. The caller discards its result; the next trigger converges the score.
var ErrVersionConflict = errors.New("deal version conflict")

// DealRepo provides deal persistence with per-deal optimistic locking
type DealRepo interface {
	// Get retrieves one deal by id
	Get(ctx context.Context, id string) (*domain.Deal, error)

	// Insert adds a new deal record
	Insert(ctx context.Context, deal *domain.Deal) error

	// Update writes the deal guarded by its version column; returns
	// ErrVersionConflict when another writer won
	Update(ctx context.Context, deal *domain.Deal) error

	// ListByState retrieves all deals in any of the given states
	ListByState(ctx context.Context, states ...domain.LifecycleState) ([]domain.Deal, error)

	// ListIDsByState retrieves deal ids in any of the given states
	ListIDsByState(ctx context.Context, states ...domain.LifecycleState) ([]string, error)
}

// HistoryRepo is the append-only score history ledger. No update or delete
// operation is part of the engine's contract.
type HistoryRepo interface {
	// Append adds one immutable score-change record
	Append(ctx context.Context, entry domain.HistoryEntry) error

	// ListForDeal retrieves a deal's history in chronological order
	ListForDeal(ctx context.Context, dealID string) ([]domain.HistoryEntry, error)
}

// AuditRepo is the append-only lifecycle audit ledger
type AuditRepo interface {
	// Append adds one audit record
	Append(ctx context.Context, entry domain.AuditEntry) error

	// ListForDeal retrieves a deal's audit trail in chronological order
	ListForDeal(ctx context.Context, dealID string) ([]domain.AuditEntry, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Deals   DealRepo
	History HistoryRepo
	Audit   AuditRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error

	// Stats returns connection pool and query statistics
	Stats(ctx context.Context) map[string]interface{}
}
