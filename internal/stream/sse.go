package stream

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bioattend/internal/bus"
	id "bioattend/pkg/domain"
	"bioattend/pkg/requestcontext"
)

const keepAlivePeriod = 15 * time.Second

// handleSSE streams the same envelopes as the WebSocket transport over
// text/event-stream, for clients behind proxies that break WebSockets.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scheduleID, err := id.ParseScheduleID(chi.URLParam(r, "scheduleID"))
	if err != nil {
		http.Error(w, "invalid schedule id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events, cancel := h.bus.Subscribe(scheduleID)
	defer cancel()

	h.logger.InfoContext(ctx, "stream subscriber connected",
		"transport", "sse",
		"schedule_id", scheduleID.String(),
		"user_id", requestcontext.UserID(ctx).String(),
	)

	if err := writeSSE(w, connectionEstablished(scheduleID)); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAlivePeriod)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event bus.Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
	return err
}
