package notify

import (
	"context"
	"sync"

	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 32

// Hub is an in-process pub/sub keyed by user ID. It feeds the notification
// stream endpoint.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	log    *logger.Logger
}

// NewHub creates a hub. A non-positive buffer uses DefaultBuffer.
func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		log:    log.With("notify_hub"),
	}
}

// Subscription receives the notifications of one user until closed.
type Subscription struct {
	UserID string
	ch     chan *repository.Notification
	hub    *Hub
	once   sync.Once
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan *repository.Notification {
	return s.ch
}

// Close detaches the subscription from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.UserID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.UserID)
			}
		}
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// Subscribe registers a listener for userID.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		UserID: userID,
		ch:     make(chan *repository.Notification, h.buffer),
		hub:    h,
	}
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Subscribers returns the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Publish delivers n to every subscription of its user. A full subscription
// drops the notification; the stored copy remains available.
func (h *Hub) Publish(_ context.Context, n *repository.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[n.UserID] {
		select {
		case sub.ch <- n:
		default:
			h.log.Warn().
				Str("user_id", n.UserID).
				Str("notification_id", n.ID).
				Msg("subscriber queue full, notification dropped")
		}
	}
}
