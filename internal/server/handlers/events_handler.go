package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/domain/models"
)

const eventsWriteTimeout = 10 * time.Second

// EventSource streams connection lifecycle events.
type EventSource interface {
	Subscribe(buffer int) (<-chan models.LifecycleEvent, func())
	List() []models.Connection
}

// EventsHandler pushes lifecycle events to websocket clients.
type EventsHandler struct {
	source   EventSource
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewEventsHandler constructs the websocket handler.
func NewEventsHandler(source EventSource, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

type snapshotFrame struct {
	Type        string              `json:"type"`
	Connections []models.Connection `json:"connections"`
}

// Stream sends a snapshot of all connections followed by every lifecycle
// event until the client goes away.
func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.source.Subscribe(64)
	defer unsubscribe()

	h.logger.Info("events client connected", zap.String("client_ip", c.ClientIP()))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Warn("events client read error", zap.Error(err))
				}
				return
			}
		}
	}()

	if err := h.write(conn, snapshotFrame{Type: "snapshot", Connections: h.source.List()}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			h.logger.Info("events client disconnected")
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(eventsWriteTimeout))
				return
			}
			if err := h.write(conn, evt); err != nil {
				return
			}
		}
	}
}

func (h *EventsHandler) write(conn *websocket.Conn, frame any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Warn("events write failed", zap.Error(err))
		return err
	}
	return nil
}
