package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/pipedesk/dealscore/internal/engine"
	"github.com/pipedesk/dealscore/internal/telemetry"
)

// WebhookNotifier posts applied score changes to the portal's notification
// service. A circuit breaker keeps a dead endpoint from slowing the engine:
// while the breaker is open, events are dropped and counted, nothing more.
// Notification loss is acceptable; the ledgers remain the record.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewWebhookNotifier creates a notifier for the given endpoint. An empty URL
// returns a disabled notifier that drops every event silently.
func NewWebhookNotifier(url string) *WebhookNotifier {
	settings := gobreaker.Settings{
		Name:        "score-webhook",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Webhook circuit breaker state changed")
		},
	}

	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Enabled reports whether a webhook endpoint is configured
func (n *WebhookNotifier) Enabled() bool { return n.url != "" }

// ScoreChanged implements engine.EventSink. Delivery runs off the caller's
// goroutine; the engine never waits on the portal.
func (n *WebhookNotifier) ScoreChanged(evt engine.ScoreEvent) {
	if !n.Enabled() {
		return
	}
	go func() {
		if err := n.deliver(evt); err != nil {
			telemetry.Get().NotifyFailures.Inc()
			log.Warn().Err(err).Str("deal_id", evt.DealID).Msg("Webhook delivery failed")
		}
	}()
}

func (n *WebhookNotifier) deliver(evt engine.ScoreEvent) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.post(evt)
	})
	return err
}

func (n *WebhookNotifier) post(evt engine.ScoreEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// State returns the breaker state for health reporting
func (n *WebhookNotifier) State() string {
	return n.breaker.State().String()
}
