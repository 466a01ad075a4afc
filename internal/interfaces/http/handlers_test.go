package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/engine"
	"github.com/pipedesk/dealscore/internal/persistence"
	"github.com/pipedesk/dealscore/internal/pipeline"
	"github.com/pipedesk/dealscore/internal/scoring"
)

type memDealRepo struct {
	deals map[string]*domain.Deal
}

func (m *memDealRepo) Get(_ context.Context, id string) (*domain.Deal, error) {
	d, ok := m.deals[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDealRepo) Insert(_ context.Context, d *domain.Deal) error {
	cp := *d
	m.deals[d.ID] = &cp
	return nil
}

func (m *memDealRepo) Update(_ context.Context, d *domain.Deal) error {
	if _, ok := m.deals[d.ID]; !ok {
		return persistence.ErrNotFound
	}
	cp := *d
	cp.Version++
	m.deals[d.ID] = &cp
	d.Version++
	return nil
}

func (m *memDealRepo) ListByState(_ context.Context, states ...domain.LifecycleState) ([]domain.Deal, error) {
	var out []domain.Deal
	for _, d := range m.deals {
		for _, s := range states {
			if d.State == s {
				out = append(out, *d)
			}
		}
	}
	return out, nil
}

func (m *memDealRepo) ListIDsByState(ctx context.Context, states ...domain.LifecycleState) ([]string, error) {
	deals, _ := m.ListByState(ctx, states...)
	ids := make([]string, 0, len(deals))
	for _, d := range deals {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

type memLedger struct{ fail bool }

func (m *memLedger) Append(context.Context, domain.HistoryEntry) error {
	if m.fail {
		return errors.New("unavailable")
	}
	return nil
}

func (m *memLedger) ListForDeal(context.Context, string) ([]domain.HistoryEntry, error) {
	return nil, nil
}

type memAudit struct{}

func (memAudit) Append(context.Context, domain.AuditEntry) error { return nil }
func (memAudit) ListForDeal(context.Context, string) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testServer(t *testing.T, deals ...*domain.Deal) *Server {
	t.Helper()

	dealRepo := &memDealRepo{deals: map[string]*domain.Deal{}}
	for _, d := range deals {
		cp := *d
		dealRepo.deals[d.ID] = &cp
	}
	repo := &persistence.Repository{Deals: dealRepo, History: &memLedger{}, Audit: memAudit{}}

	eng, err := engine.New(repo, scoring.DefaultConfig())
	require.NoError(t, err)
	agg := pipeline.NewAggregator(dealRepo, nil)

	cfg := DefaultServerConfig()
	cfg.Port = 0
	srv, err := NewServer(cfg, NewHandlers(eng, agg, nil, nil), NewStreamHub())
	require.NoError(t, err)
	return srv
}

func do(srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func activeDeal(id string) *domain.Deal {
	return &domain.Deal{ID: id, RepID: "rep-1", State: domain.StateActive, Tier: domain.TierBetter, Score: 50, MonthlyValue: 1000, Version: 1}
}

func TestGetScore(t *testing.T) {
	srv := testServer(t, activeDeal("deal-1"))

	rec := do(srv, http.MethodGet, "/deals/deal-1/score", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var bd domain.Breakdown
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bd))
	assert.Equal(t, 50, bd.FinalScore)
}

func TestGetScoreNotFound(t *testing.T) {
	srv := testServer(t)

	rec := do(srv, http.MethodGet, "/deals/missing/score", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "deal_not_found", resp.Code)
	assert.NotEmpty(t, resp.RequestID)
}

func TestLifecycleViolationMapsToConflict(t *testing.T) {
	srv := testServer(t, activeDeal("deal-1"))

	rec := do(srv, http.MethodPost, "/deals/deal-1/archive", map[string]string{
		"reason": "other", "actor": "rep-1",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "lifecycle_violation", resp.Code)
}

func TestSnoozeCommandRoundtrip(t *testing.T) {
	srv := testServer(t, activeDeal("deal-1"))

	rec := do(srv, http.MethodPost, "/deals/deal-1/snooze", map[string]interface{}{
		"until":  time.Now().Add(14 * 24 * time.Hour).Format(time.RFC3339),
		"reason": "budget freeze",
		"actor":  "rep-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var deal domain.Deal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deal))
	assert.Equal(t, domain.StateSnoozed, deal.State)
}

func TestSetStatusRejectsNonTerminal(t *testing.T) {
	srv := testServer(t, activeDeal("deal-1"))

	rec := do(srv, http.MethodPost, "/deals/deal-1/status", map[string]string{
		"status": "archived", "actor": "rep-1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAggregatesEndpoint(t *testing.T) {
	srv := testServer(t, activeDeal("deal-1"), activeDeal("deal-2"))

	rec := do(srv, http.MethodGet, "/aggregates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var agg pipeline.Aggregates
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agg))
	assert.Equal(t, 2, agg.Count)
	assert.Equal(t, 1000.0, agg.WeightedMonthly)
}

func TestAggregatesByRep(t *testing.T) {
	other := activeDeal("deal-2")
	other.RepID = "rep-2"
	srv := testServer(t, activeDeal("deal-1"), other)

	rec := do(srv, http.MethodGet, "/aggregates?rep_id=rep-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var agg pipeline.Aggregates
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agg))
	assert.Equal(t, 1, agg.Count)
}

func TestSweepEndpoint(t *testing.T) {
	stale := activeDeal("deal-1")
	stale.ScoredAt = nil
	srv := testServer(t, stale)

	rec := do(srv, http.MethodPost, "/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report engine.SweepReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Processed)
}

func TestInvalidJSONBody(t *testing.T) {
	srv := testServer(t, activeDeal("deal-1"))

	req := httptest.NewRequest(http.MethodPost, "/deals/deal-1/snooze", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRouteReturnsStructured404(t *testing.T) {
	srv := testServer(t)

	rec := do(srv, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "endpoint_not_found", resp.Code)
}

func TestRequestIDHeader(t *testing.T) {
	srv := testServer(t, activeDeal("deal-1"))

	rec := do(srv, http.MethodGet, "/deals/deal-1/score", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)
}
