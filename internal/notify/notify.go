package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level classifies a notification for the rendering surface.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notification is a user-facing toast.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const historyLimit = 50

// Hub fans notifications out to in-process subscribers and keeps a bounded
// history for views that poll instead of subscribing.
type Hub struct {
	mu          sync.Mutex
	pending     []Notification
	subscribers []chan Notification
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Success publishes a success toast.
func (h *Hub) Success(title, message string) {
	h.publish(LevelSuccess, title, message)
}

// Error publishes an error toast.
func (h *Hub) Error(title, message string) {
	h.publish(LevelError, title, message)
}

// Info publishes an informational toast.
func (h *Hub) Info(title, message string) {
	h.publish(LevelInfo, title, message)
}

func (h *Hub) publish(level Level, title, message string) {
	n := Notification{
		ID:        uuid.New(),
		Level:     level,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending = append(h.pending, n)
	if len(h.pending) > historyLimit {
		h.pending = h.pending[len(h.pending)-historyLimit:]
	}

	for _, ch := range h.subscribers {
		// A slow subscriber must not stall the publisher
		select {
		case ch <- n:
		default:
		}
	}
}

// Drain returns the pending notifications and clears them. Views call this
// once per render so each toast is shown exactly once.
func (h *Hub) Drain() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

// Subscribe returns a channel of future notifications and a cleanup func.
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 16)

	h.mu.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mu.Unlock()

	cleanup := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, sub := range h.subscribers {
			if sub == ch {
				h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cleanup
}
