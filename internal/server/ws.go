package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/featflow/featflow/internal/common/logger"
	"github.com/featflow/featflow/internal/events"
	"github.com/featflow/featflow/internal/events/bus"
	ws "github.com/featflow/featflow/pkg/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds loopback; the desktop shell connects from a
		// webview origin that varies by platform.
		return true
	},
}

// WSHandler upgrades HTTP connections and hands them to the hub
type WSHandler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewWSHandler creates a WebSocket connection handler
func NewWSHandler(hub *Hub, log *logger.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades HTTP to WebSocket and runs the client pumps
func (h *WSHandler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()

	h.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

// EventBroadcaster bridges the event bus into the WebSocket hub. Board and
// session lifecycle events go to every client; per-feature stream output
// goes only to subscribed clients.
type EventBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterEventBroadcaster subscribes the hub to the daemon's event subjects.
// Subscriptions are released when ctx is cancelled.
func RegisterEventBroadcaster(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *EventBroadcaster {
	b := &EventBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribe(eventBus, events.FeatureCreated)
	b.subscribe(eventBus, events.FeatureUpdated)
	b.subscribe(eventBus, events.FeatureStatusChanged)
	b.subscribe(eventBus, events.FeatureCommitted)
	b.subscribe(eventBus, events.SessionQueued)
	b.subscribe(eventBus, events.SessionStarted)
	b.subscribe(eventBus, events.SessionPaused)
	b.subscribe(eventBus, events.SessionCompleted)
	b.subscribe(eventBus, events.SessionFailed)
	b.subscribeStream(eventBus)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close releases all bus subscriptions
func (b *EventBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// subscribe forwards one lifecycle subject to all connected clients. The
// event type doubles as the notification action.
func (b *EventBroadcaster) subscribe(eventBus bus.EventBus, subject string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(event.Type, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification",
				zap.String("event_type", event.Type), zap.Error(err))
			return nil
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

// subscribeStream forwards normalized agent output to clients subscribed to
// the feature the output belongs to.
func (b *EventBroadcaster) subscribeStream(eventBus bus.EventBus) {
	sub, err := eventBus.Subscribe(events.BuildSessionStreamWildcardSubject(), func(ctx context.Context, event *bus.Event) error {
		featureID, _ := event.Data["feature_id"].(string)
		if featureID == "" {
			return nil
		}

		msg, err := ws.NewNotification(ws.ActionSessionStream, map[string]any{
			"feature_id":   featureID,
			"message_type": event.Type,
			"message":      event.Data["message"],
		})
		if err != nil {
			b.logger.Error("failed to build stream notification",
				zap.String("feature_id", featureID), zap.Error(err))
			return nil
		}
		b.hub.BroadcastToFeature(featureID, msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to session stream", zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}
