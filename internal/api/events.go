package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/satindergrewal/stemdeck/internal/session"
)

// Event is one observer update as sent to browsers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// subscriberBuffer is how many events a slow client may lag before events
// are dropped for it.
const subscriberBuffer = 256

// keepAlive is the interval of SSE comment pings on idle connections.
const keepAlive = 15 * time.Second

// EventHub is a session.Observer that fans events out to SSE clients.
type EventHub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

var _ session.Observer = (*EventHub)(nil)

// NewEventHub creates a hub with no subscribers.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events and a func that ends the subscription.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of connected clients.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *EventHub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *EventHub) TrackLabel(index int, text string) {
	h.publish(Event{Type: "track_label", Data: map[string]any{"index": index, "text": text}})
}

func (h *EventHub) Meter(index int, percent float64, db string) {
	h.publish(Event{Type: "meter", Data: map[string]any{"index": index, "percent": percent, "db": db}})
}

func (h *EventHub) Position(text string) {
	h.publish(Event{Type: "position", Data: map[string]any{"text": text}})
}

func (h *EventHub) Message(title, body string, severity session.Severity) {
	h.publish(Event{Type: "message", Data: map[string]any{"title": title, "body": body, "severity": severity}})
}

// ServeHTTP streams events as text/event-stream until the client leaves.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events, cancel := h.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev.Data)
			if err != nil {
				log.Printf("SSE: marshal %s: %v", ev.Type, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
