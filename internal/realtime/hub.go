// Package realtime pushes notification events to connected browser sessions
// over websockets. The hub keeps one subscriber set per user; a user with
// several tabs open holds several subscriptions.
package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seatsmith/seatsmith/internal/models"
	"github.com/seatsmith/seatsmith/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 16
)

// Event is the wire envelope pushed to clients.
type Event struct {
	Type         string               `json:"type"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// Subscriber receives events for one connected session.
type Subscriber struct {
	hub    *Hub
	userID string
	send   chan Event
	once   sync.Once
}

// Events exposes the subscriber's event stream.
func (s *Subscriber) Events() <-chan Event {
	return s.send
}

// Close detaches the subscriber from the hub.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub fans notification events out to per-user subscribers. It implements the
// notification service's Broadcaster contract.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new event stream for the user.
func (h *Hub) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		hub:    h,
		userID: userID,
		send:   make(chan Event, sendBufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[userID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subscribers[userID] = set
	}
	set[sub] = struct{}{}

	return sub
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[sub.userID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.userID)
	}
	close(sub.send)
}

// Broadcast delivers a notification to every live subscription of the user.
// Slow subscribers are skipped rather than blocking the caller.
func (h *Hub) Broadcast(userID string, notification *models.Notification) {
	event := Event{Type: "notification", Notification: notification}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers[userID] {
		select {
		case sub.send <- event:
		default:
			logger.Debug("dropping realtime event for slow subscriber",
				zap.String("user_id", userID))
		}
	}
}

// SubscriberCount reports the number of live subscriptions for a user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

// ServeConn pumps a subscriber's events onto a websocket connection until the
// subscriber closes or a write fails. The caller owns the read side.
func ServeConn(conn *websocket.Conn, sub *Subscriber) {
	defer sub.Close()

	for event := range sub.Events() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
