// Package stream exposes the notification bus over long-lived client
// connections. Two transports with the same envelope contract: a
// bidirectional WebSocket and a unidirectional SSE stream with keep-alive
// markers. Either way, the first message is connection_established, and a
// dropped connection is a silent unsubscribe.
package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"bioattend/internal/bus"
	id "bioattend/pkg/domain"
	"bioattend/pkg/requestcontext"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens at the gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the real-time endpoints.
type Handler struct {
	bus    bus.Bus
	logger *slog.Logger
}

func NewHandler(b bus.Bus, logger *slog.Logger) *Handler {
	return &Handler{bus: b, logger: logger}
}

// Register mounts the stream routes on an authenticated router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/attendance/stream/{scheduleID}", h.handleWebSocket)
	r.Get("/api/attendance/stream/{scheduleID}/sse", h.handleSSE)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scheduleID, err := id.ParseScheduleID(chi.URLParam(r, "scheduleID"))
	if err != nil {
		http.Error(w, "invalid schedule id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			"schedule_id", scheduleID.String(),
			"error", err,
		)
		return
	}

	events, cancel := h.bus.Subscribe(scheduleID)

	h.logger.InfoContext(ctx, "stream subscriber connected",
		"transport", "websocket",
		"schedule_id", scheduleID.String(),
		"user_id", requestcontext.UserID(ctx).String(),
	)

	go h.readPump(conn, cancel)
	go h.writePump(conn, scheduleID, events, cancel)
}

// readPump drains client frames (pong handling lives here) and tears the
// subscription down when the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, cancel func()) {
	defer func() {
		cancel()
		conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, scheduleID id.ScheduleID, events <-chan bus.Event, cancel func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	if err := writeEvent(conn, connectionEstablished(scheduleID)); err != nil {
		return
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event bus.Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func connectionEstablished(scheduleID id.ScheduleID) bus.Event {
	return bus.Event{
		Type:       bus.EventConnectionEstablished,
		ScheduleID: scheduleID,
		Timestamp:  time.Now(),
		Payload: bus.ConnectionPayload{
			Message: fmt.Sprintf("Connected to attendance updates for schedule %s", scheduleID),
		},
	}
}
