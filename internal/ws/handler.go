package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"househub-chat/internal/chat"
	"househub-chat/internal/observability"
)

// Handler upgrades authenticated requests into chat sessions.
type Handler struct {
	controller *chat.Controller
	events     *observability.WSEvents
	log        zerolog.Logger
	sendBuffer int
}

// NewHandler constructs a Handler.
func NewHandler(controller *chat.Controller, events *observability.WSEvents, log zerolog.Logger, sendBuffer int) *Handler {
	return &Handler{controller: controller, events: events, log: log, sendBuffer: sendBuffer}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// tokenFromRequest reads the bearer token from the Authorization header or
// the token query parameter.
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return header
	}
	return r.URL.Query().Get("token")
}

// Handle authenticates before upgrading, so a bad credential fails the
// handshake itself and the peer never joins a room.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("househub-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var traceID string
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	info := ConnInfo{
		IP:        observability.IPFromRequest(c.Request),
		RequestID: observability.RequestIDFromRequest(c.Request),
		TraceID:   traceID,
	}
	eventCtx := context.WithoutCancel(ctx)

	session := h.controller.NewSession()
	if err := session.Authenticate(tokenFromRequest(c.Request)); err != nil {
		observability.IncAuthRejected()
		h.events.Publish(eventCtx, info.event(observability.EventAuthRejected, err.Error()))
		h.log.Info().Err(err).Str("ip", info.IP).Msg("handshake rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": chat.ReasonAuthentication})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		session.Disconnect()
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	identity := session.Identity()
	client := NewClient(conn, h.sendBuffer, h.log)
	info.ConnID = client.ID()
	info.UserID = identity.UserID
	info.HouseID = identity.HouseID
	info.ConnectedAt = time.Now()
	span.SetAttributes(attribute.String("house_id", identity.HouseID), attribute.String("conn_id", client.ID()))

	go client.writePump()
	if err := session.Join(client); err != nil {
		h.log.Error().Err(err).Msg("join chat session")
		client.Close()
		return
	}
	h.events.Publish(eventCtx, info.event(observability.EventWSConnect, ""))

	go func() {
		log := h.log.With().Str("conn_id", info.ConnID).Str("house_id", info.HouseID).Logger()
		err := client.readPump(func(frame []byte) {
			if err := session.Dispatch(frame); err != nil {
				log.Debug().Err(err).Msg("inbound event rejected")
			}
		})
		session.Disconnect()
		client.Close()

		reason := closeReason(err)
		if !isNormalClose(err) {
			h.events.Publish(eventCtx, info.event(observability.EventWSError, reason))
		}
		h.events.Publish(eventCtx, info.event(observability.EventWSDisconnect, reason))
	}()
}

func closeReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
