package ingest

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetlink/pkg/config"
	"fleetlink/pkg/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Allow same-origin requests, or requests with no Origin header
		// (direct connections from non-browser clients).
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Event kinds pushed to subscribers.
const (
	EventConnected = "connected"
	EventHistory   = "history"
	EventSummary   = "summary"
	EventTelemetry = "telemetry"
	EventLog       = "log"
)

type connectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type historyEvent struct {
	Type    string             `json:"type"`
	Samples []telemetry.Sample `json:"samples"`
}

type summaryEvent struct {
	Type        string                     `json:"type"`
	Buffered    int                        `json:"buffered"`
	Subscribers int                        `json:"subscribers"`
	Stats       telemetry.CompressionStats `json:"stats"`
}

type telemetryEvent struct {
	Type   string                     `json:"type"`
	Sample telemetry.Sample           `json:"sample"`
	Stats  telemetry.CompressionStats `json:"stats"`
}

type logEvent struct {
	Type    string `json:"type"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ConnectState is what a newly-connected subscriber gets replayed before
// it sees any live traffic.
type ConnectState struct {
	History  []telemetry.Sample
	Buffered int
	Stats    telemetry.CompressionStats
}

// subscriber wraps one WebSocket connection. The write mutex serializes
// the hub's event writes with the keepalive pings.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	return s.conn.WriteMessage(websocket.TextMessage, message)
}

func (s *subscriber) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// Hub manages WebSocket subscribers for real-time telemetry streaming.
// All event writes to a given subscriber happen in the hub's run loop,
// so per-subscriber ordering (history replay before live events) holds
// by construction.
type Hub struct {
	// Registered subscribers
	clients map[*subscriber]bool

	register   chan *subscriber
	unregister chan *subscriber

	// Broadcast channel for marshaled events
	broadcast chan []byte

	// connectState supplies the replay data for new subscribers
	connectState func() ConnectState

	mu sync.RWMutex
}

// NewHub creates a subscriber hub. connectState is called on every new
// connection to build the replay; it may be nil for tests.
func NewHub(connectState func() ConnectState) *Hub {
	return &Hub{
		clients:      make(map[*subscriber]bool),
		register:     make(chan *subscriber, config.WSChannelBuffer),
		unregister:   make(chan *subscriber, config.WSChannelBuffer),
		broadcast:    make(chan []byte, config.WSBroadcastBuffer),
		connectState: connectState,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sub := range h.clients {
				sub.conn.Close()
			}
			h.clients = make(map[*subscriber]bool)
			h.mu.Unlock()
			return

		case sub := <-h.register:
			if err := h.welcome(sub); err != nil {
				log.Printf("Subscriber dropped during connect replay: %v", err)
				sub.conn.Close()
				continue
			}
			h.mu.Lock()
			h.clients[sub] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Subscriber connected (total: %d)", count)

		case sub := <-h.unregister:
			h.remove(sub)

		case message := <-h.broadcast:
			h.mu.RLock()
			// Collect failed connections; never mutate the set while
			// iterating it.
			var failed []*subscriber
			for sub := range h.clients {
				if err := sub.send(message); err != nil {
					log.Printf("Subscriber write error: %v", err)
					failed = append(failed, sub)
				}
			}
			h.mu.RUnlock()

			for _, sub := range failed {
				h.remove(sub)
			}
		}
	}
}

// welcome sends the fixed connect sequence: connected ack, history
// replay, then a summary — in that order, before any live traffic.
func (h *Hub) welcome(sub *subscriber) error {
	state := ConnectState{}
	if h.connectState != nil {
		state = h.connectState()
	}

	events := []interface{}{
		connectedEvent{Type: EventConnected, Message: "connected to telemetry stream"},
		historyEvent{Type: EventHistory, Samples: state.History},
		summaryEvent{
			Type:        EventSummary,
			Buffered:    state.Buffered,
			Subscribers: h.Count() + 1,
			Stats:       state.Stats,
		},
	}

	for _, event := range events {
		message, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := sub.send(message); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		sub.conn.Close()
		count := len(h.clients)
		h.mu.Unlock()
		log.Printf("Subscriber disconnected (total: %d)", count)
		return
	}
	h.mu.Unlock()
}

// BroadcastTelemetry pushes one reconstructed sample with the running
// compression stats to all subscribers.
func (h *Hub) BroadcastTelemetry(sample telemetry.Sample, stats telemetry.CompressionStats) error {
	return h.enqueue(telemetryEvent{Type: EventTelemetry, Sample: sample, Stats: stats})
}

// BroadcastLog pushes a free-text diagnostic event.
func (h *Hub) BroadcastLog(level, message string) error {
	return h.enqueue(logEvent{Type: EventLog, Level: level, Message: message})
}

func (h *Hub) enqueue(event interface{}) error {
	message, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		// Channel full, drop rather than block the producer.
		log.Printf("Broadcast channel full, dropping event")
		return nil
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients returns true if any subscriber is connected.
func (h *Hub) HasClients() bool {
	return h.Count() > 0
}

// HandleSubscribe upgrades an HTTP request to a WebSocket subscription.
func (h *Hub) HandleSubscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		sub := &subscriber{conn: conn}
		h.register <- sub

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Keepalive pings
		go func() {
			ticker := time.NewTicker(config.WSPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := sub.ping(); err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			cancel()
			h.unregister <- sub
		}()

		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
			return nil
		})

		// Read loop handles control frames and detects connection close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}
}
