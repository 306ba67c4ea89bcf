// Package feed pushes analyzer output to websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/planbiir/rttsense/internal/analyze"
)

// Message types sent to subscribers
const (
	TypeMeasurement = "measurement"
	TypeProfile     = "profile"
	TypeFlag        = "risk_flag"
	TypeLog         = "log"
)

// Message is the envelope of every feed frame
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// LogLine is the payload of a log message
type LogLine struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *logrus.Entry
}

// NewHub creates a hub; Run must be started before clients connect
func NewHub(log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.WithField("component", "feed")
	}
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		log:        log,
	}
}

// Run serves registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.WithField("remote", client.remote()).Debug("feed client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.WithField("remote", client.remote()).Debug("feed client unregistered")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop it
					h.log.WithField("remote", client.remote()).Warn("feed client send buffer full, removing")
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a typed message to all clients. It never blocks the caller;
// messages are dropped when the hub is backed up.
func (h *Hub) Broadcast(msgType string, payload any) {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		h.log.WithError(err).Error("failed to marshal feed message")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.WithField("type", msgType).Warn("feed backlog full, dropping message")
	}
}

// Measurement implements analyze.Sink
func (h *Hub) Measurement(m analyze.Measurement) {
	h.Broadcast(TypeMeasurement, m)
}

// Profile implements analyze.Sink
func (h *Hub) Profile(p analyze.DeviceProfile) {
	h.Broadcast(TypeProfile, p)
}

// RiskFlag implements analyze.FlagObserver
func (h *Hub) RiskFlag(f analyze.RiskFlag) {
	h.Broadcast(TypeFlag, f)
}

// Log sends an operator-facing log line
func (h *Hub) Log(msg string) {
	h.Broadcast(TypeLog, LogLine{Time: time.Now(), Message: msg})
}
