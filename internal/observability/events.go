package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Lifecycle event names published to the broker.
const (
	EventWSConnect    = "ws_connect"
	EventWSDisconnect = "ws_disconnect"
	EventWSError      = "ws_error"
	EventAuthRejected = "auth_rejected"
)

const wsRoutingKey = "ws_events.chat"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// Publisher delivers JSON events to a broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// WSEvent describes one connection lifecycle transition.
type WSEvent struct {
	Name       string
	ConnID     string
	HouseID    string
	UserID     string
	IP         string
	DurationMS int64
	Reason     string
	RequestID  string
	TraceID    string
}

// WSEvents publishes connection lifecycle events. A nil *WSEvents or nil
// publisher only counts the event.
type WSEvents struct {
	publisher Publisher
	log       zerolog.Logger
}

func NewWSEvents(publisher Publisher, log zerolog.Logger) *WSEvents {
	return &WSEvents{publisher: publisher, log: log}
}

func (e *WSEvents) Publish(ctx context.Context, ev WSEvent) {
	IncWSEvent(ev.Name)
	if e == nil || e.publisher == nil {
		return
	}

	envelope := EventEnvelope{
		EventType: "ws_events",
		EventName: ev.Name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "chat",
				"resource_id": ev.HouseID,
				"event":       ev.Name,
				"conn_id":     ev.ConnID,
				"duration_ms": ev.DurationMS,
				"reason":      ev.Reason,
			},
			"identity": map[string]interface{}{
				"user_id": ev.UserID,
				"ip":      ev.IP,
			},
		},
	}
	if err := e.publisher.Publish(ctx, wsRoutingKey, envelope, BuildHeaders(ev.RequestID, ev.TraceID)); err != nil {
		IncAMQPPublishError()
		e.log.Warn().Err(err).Str("event", ev.Name).Msg("lifecycle event publish failed")
	}
}
