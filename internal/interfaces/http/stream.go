package http

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pipedesk/dealscore/internal/engine"
	"github.com/pipedesk/dealscore/internal/telemetry"
)

const (
	writeWait     = 10 * time.Second
	pingPeriod    = 30 * time.Second
	clientBacklog = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	},
}

// StreamHub broadcasts applied score changes to connected dashboard clients.
// It implements engine.EventSink; a slow client's backlog overflows and the
// event is dropped for that client rather than stalling the engine.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan engine.ScoreEvent
}

// NewStreamHub creates an empty hub
func NewStreamHub() *StreamHub {
	return &StreamHub{clients: map[*streamClient]bool{}}
}

// ScoreChanged implements engine.EventSink
func (h *StreamHub) ScoreChanged(evt engine.ScoreEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- evt:
		default:
			// Client backlog full; drop this event for this client
		}
	}
}

// ClientCount returns the number of connected clients
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and streams score events until the client leaves
func (h *StreamHub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &streamClient{conn: conn, send: make(chan engine.ScoreEvent, clientBacklog)}
	h.register(client)
	defer h.unregister(client)

	// Reads are discarded; detecting the close is all that matters
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	telemetry.Get().StreamClients.Inc()
	log.Debug().Msg("Score stream client connected")
}

func (h *StreamHub) unregister(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
	telemetry.Get().StreamClients.Dec()
	log.Debug().Msg("Score stream client disconnected")
}
