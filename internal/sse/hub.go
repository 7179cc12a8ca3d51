// Package sse fans result updates out to browser clients over Server-Sent Events
// and WebSockets.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tlcrun/internal/check"
)

// Event is one message to clients.
type Event struct {
	Type string // "result" or "finished"
	Data any    // JSON encoded
}

// Client is one connection. The handler that creates a client closes Done.
type Client struct {
	ID     string
	Source check.Source
	Events chan Event
	Done   chan struct{}
}

// NewClient creates a client with a buffered event channel.
func NewClient(id string, source check.Source) *Client {
	return &Client{
		ID:     id,
		Source: source,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}
}

// Hub manages connected clients and broadcasts events to them.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	clients  map[string]*Client
	interval time.Duration
	lastSent map[check.Source]time.Time
	now      func() time.Time
}

// NewHub creates a hub. Non-final updates of one source are sent at most once per
// minInterval.
func NewHub(logger *slog.Logger, minInterval time.Duration) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		clients:  make(map[string]*Client),
		interval: minInterval,
		lastSent: make(map[check.Source]time.Time),
		now:      time.Now,
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	h.logger.Debug("Live view client registered", "clientID", c.ID, "source", c.Source)
}

// Unregister removes a client. Its Done channel is left to the handler.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		h.logger.Debug("Live view client unregistered", "clientID", id)
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends ev to all clients of source without blocking. A client with a
// full channel misses the event.
func (h *Hub) Broadcast(source check.Source, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.Source != source {
			continue
		}
		select {
		case c.Events <- ev:
		case <-c.Done:
		default:
			h.logger.Warn("Live view client channel full, dropping event", "clientID", c.ID)
		}
	}
}

// ShouldSend rate limits updates of one source. Final updates always pass and
// reset the limiter.
func (h *Hub) ShouldSend(source check.Source, final bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if final {
		delete(h.lastSent, source)
		return true
	}
	now := h.now()
	if now.Sub(h.lastSent[source]) >= h.interval {
		h.lastSent[source] = now
		return true
	}
	return false
}

// FormatSSE formats an event for the Server-Sent Events protocol.
func FormatSSE(event Event) ([]byte, error) {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, dataJSON)), nil
}

// Summary is the event payload for a result update. Clients fetch the full result
// separately.
type Summary struct {
	RunID    string       `json:"run_id"`
	Source   check.Source `json:"source"`
	Spec     string       `json:"spec"`
	Status   check.Status `json:"status"`
	Progress string       `json:"progress,omitempty"`
	Stats    check.Stats  `json:"stats"`
	Errors   int          `json:"errors"`
	Warnings int          `json:"warnings"`
	Failure  string       `json:"failure,omitempty"`
}

// Summarize builds the event payload of r.
func Summarize(r *check.Result) Summary {
	return Summary{
		RunID:    r.RunID,
		Source:   r.Source,
		Spec:     r.Files.SpecName(),
		Status:   r.Status,
		Progress: r.Progress,
		Stats:    r.Stats,
		Errors:   len(r.Errors),
		Warnings: len(r.Warnings),
		Failure:  r.Failure,
	}
}

// ResultEvent is the event for an update of r.
func ResultEvent(r *check.Result) Event {
	typ := "result"
	if r.Status.IsFinal() {
		typ = "finished"
	}
	return Event{Type: typ, Data: Summarize(r)}
}
