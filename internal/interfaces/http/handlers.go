package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/engine"
	"github.com/pipedesk/dealscore/internal/lifecycle"
	"github.com/pipedesk/dealscore/internal/persistence"
	"github.com/pipedesk/dealscore/internal/pipeline"
	"github.com/pipedesk/dealscore/internal/scoring"
)

// ErrorResponse is the standardized error payload
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Handlers serves the engine's read and command endpoints
type Handlers struct {
	engine     *engine.Orchestrator
	aggregator *pipeline.Aggregator
	dbHealth   persistence.RepositoryHealth
	cache      *pipeline.Cache
}

// NewHandlers creates the handler set. dbHealth and cache may be nil; the
// health endpoint then reports only what is wired.
func NewHandlers(eng *engine.Orchestrator, agg *pipeline.Aggregator, dbHealth persistence.RepositoryHealth, cache *pipeline.Cache) *Handlers {
	return &Handlers{engine: eng, aggregator: agg, dbHealth: dbHealth, cache: cache}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *lifecycle.Violation
	var cfgErr *scoring.ConfigError
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "deal_not_found", err.Error())
	case errors.As(err, &violation):
		h.writeError(w, r, http.StatusConflict, "lifecycle_violation", violation.Error())
	case errors.As(err, &cfgErr):
		h.writeError(w, r, http.StatusInternalServerError, "scoring_config_invalid", cfgErr.Error())
	default:
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return false
	}
	return true
}

func dealID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

// Score returns a deal's current confidence breakdown
func (h *Handlers) Score(w http.ResponseWriter, r *http.Request) {
	bd, err := h.engine.GetScore(r.Context(), dealID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bd)
}

// History returns a deal's chronological score history
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.GetHistory(r.Context(), dealID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// Audit returns a deal's chronological audit trail
func (h *Handlers) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.GetAudit(r.Context(), dealID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// Aggregates returns the confidence-weighted pipeline rollup
func (h *Handlers) Aggregates(w http.ResponseWriter, r *http.Request) {
	filter := pipeline.Filter{RepID: r.URL.Query().Get("rep_id")}
	agg, err := h.aggregator.Aggregates(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, agg)
}

// Recalculate triggers an immediate recomputation of one deal
func (h *Handlers) Recalculate(w http.ResponseWriter, r *http.Request) {
	bd, err := h.engine.Recalculate(r.Context(), dealID(r), domain.TriggerManual)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bd)
}

// Sweep runs the daily batch recalculation and returns its report
func (h *Handlers) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RunDailySweep(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

type snoozeRequest struct {
	Until  time.Time `json:"until"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
}

// Snooze freezes a deal until a future date
func (h *Handlers) Snooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if !h.decode(w, r, &req) {
		return
	}
	deal, err := h.engine.Snooze(r.Context(), dealID(r), req.Until, req.Reason, req.Actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deal)
}

type actorRequest struct {
	Actor string `json:"actor"`
}

// Unsnooze wakes a snoozed deal immediately
func (h *Handlers) Unsnooze(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	deal, err := h.engine.Unsnooze(r.Context(), dealID(r), req.Actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deal)
}

type archiveRequest struct {
	Reason domain.ArchiveReason `json:"reason"`
	Notes  string               `json:"notes"`
	Actor  string               `json:"actor"`
}

// Archive removes a deal from the pipeline
func (h *Handlers) Archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	deal, err := h.engine.Archive(r.Context(), dealID(r), req.Reason, req.Notes, req.Actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deal)
}

// Revive returns an archived deal to the pipeline
func (h *Handlers) Revive(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	deal, err := h.engine.Revive(r.Context(), dealID(r), req.Actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deal)
}

type statusRequest struct {
	Status domain.LifecycleState `json:"status"`
	Actor  string                `json:"actor"`
}

// SetStatus closes a deal as accepted or closed_lost
func (h *Handlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Status.Terminal() {
		h.writeError(w, r, http.StatusBadRequest, "invalid_status",
			"status must be accepted or closed_lost")
		return
	}
	deal, err := h.engine.SetTerminalStatus(r.Context(), dealID(r), req.Status, req.Actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deal)
}

type callScoreRequest struct {
	BudgetClarity string `json:"budget_clarity"`
	Competition   string `json:"competition"`
	Engagement    string `json:"engagement"`
	PlanFit       string `json:"plan_fit"`
	Actor         string `json:"actor"`
}

// CallScore records the discovery-call factors
func (h *Handlers) CallScore(w http.ResponseWriter, r *http.Request) {
	var req callScoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	deal, err := h.engine.SubmitCallScore(r.Context(), dealID(r), domain.CallScore{
		BudgetClarity: req.BudgetClarity,
		Competition:   req.Competition,
		Engagement:    req.Engagement,
		PlanFit:       req.PlanFit,
	}, req.Actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deal)
}

type milestoneRequest struct {
	Milestone string    `json:"milestone"`
	At        time.Time `json:"at"`
}

// Milestone records a set-once engagement milestone
func (h *Handlers) Milestone(w http.ResponseWriter, r *http.Request) {
	var req milestoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}
	deal, err := h.engine.RecordMilestone(r.Context(), dealID(r), req.Milestone, req.At)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deal)
}

type communicationRequest struct {
	Direction string    `json:"direction"`
	At        time.Time `json:"at"`
}

// Communication records an inbound or outbound message
func (h *Handlers) Communication(w http.ResponseWriter, r *http.Request) {
	var req communicationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}
	deal, err := h.engine.LogCommunication(r.Context(), dealID(r), req.Direction, req.At)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deal)
}
