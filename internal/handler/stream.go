package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"

	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
)

// DefaultKeepAlive is the interval between keep-alive comments on the
// notification stream.
const DefaultKeepAlive = 25 * time.Second

// StreamNotifications serves the caller's notifications as server-sent
// events: one init event carrying a JSON array with the ids of all the
// caller's notifications, then one notification event per delivery.
func (h *HTTPHandler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, errors.New(errors.ErrCodeInternal, "streaming unsupported"))
		return
	}

	// Subscribe before reading the backlog so nothing committed in between is
	// lost.
	sub, err := h.svc.Notifications.Subscribe(actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer sub.Close()

	ids, err := h.svc.Notifications.IDs(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := sse.Encode(w, sse.Event{Event: "init", Data: ids}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, open := <-sub.C():
			if !open {
				return
			}
			if err := sse.Encode(w, sse.Event{Event: "notification", Id: n.ID, Data: n}); err != nil {
				h.log.Debug().Err(err).Str("user_id", actor.UserID).Msg("Notification stream write failed")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
