package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedesk/dealscore/internal/domain"
	"github.com/pipedesk/dealscore/internal/engine"
)

func testEvent() engine.ScoreEvent {
	return engine.ScoreEvent{
		DealID:   "deal-1",
		Score:    64,
		Previous: 71,
		State:    domain.StateActive,
		Trigger:  domain.TriggerSweep,
		At:       time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
	}
}

func TestWebhookDeliversEvent(t *testing.T) {
	var got engine.ScoreEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	require.NoError(t, n.deliver(testEvent()))
	assert.Equal(t, "deal-1", got.DealID)
	assert.Equal(t, 64, got.Score)
}

func TestWebhookNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.deliver(testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	for i := 0; i < 5; i++ {
		require.Error(t, n.deliver(testEvent()))
	}

	assert.Equal(t, gobreaker.StateOpen.String(), n.State())

	// Open breaker fails fast without reaching the endpoint
	err := n.deliver(testEvent())
	require.Error(t, err)
	assert.Equal(t, 5, hits)
}

func TestWebhookDisabledWithoutURL(t *testing.T) {
	n := NewWebhookNotifier("")
	assert.False(t, n.Enabled())
	n.ScoreChanged(testEvent()) // must not panic or hang
}
