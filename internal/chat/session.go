package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"househub-chat/internal/auth"
	"househub-chat/internal/models"
	"househub-chat/internal/observability"
)

// Reasons sent in error frames.
const (
	ReasonAuthentication = "Authentication error"
	ReasonInvalidMessage = "Invalid message data"
	ReasonSendFailed     = "Failed to send message"
	ReasonHistoryFailed  = "Failed to load chat history"
	ReasonUnknownEvent   = "Unknown event"
	ReasonMalformedFrame = "Malformed frame"
)

var (
	// ErrInvalidMessage is returned for an empty message body.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidTransition is returned when an event arrives in the wrong state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrUnknownEvent is returned for frames naming no inbound event.
	ErrUnknownEvent = errors.New("unknown event")
)

// State is a session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var tracer = otel.Tracer("househub-chat/chat")

// Session is one connection's chat state machine. Inbound events and the
// close path are serialized by mu, so cleanup runs exactly once and never
// interleaves with a half-applied event.
type Session struct {
	c *Controller

	// ctx is canceled at the start of close so an in-flight store call aborts.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	identity auth.Identity
	conn     Conn
	log      zerolog.Logger
}

// NewSession starts a session in StateConnecting.
func (c *Controller) NewSession() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{c: c, ctx: ctx, cancel: cancel, log: c.log}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the authenticated identity, zero before authentication.
func (s *Session) Identity() auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Authenticate moves Connecting to Authenticated, or to Closed on failure.
func (s *Session) Authenticate(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return fmt.Errorf("%w: authenticate in %s", ErrInvalidTransition, s.state)
	}

	id, err := s.c.authn.Authenticate(token)
	if err != nil {
		s.state = StateClosed
		s.cancel()
		return err
	}
	s.identity = id
	s.state = StateAuthenticated
	s.log = s.c.log.With().Str("user_id", id.UserID).Str("house_id", id.HouseID).Logger()
	return nil
}

// Join attaches conn, joins the household room, pushes history to conn and
// announces the arrival to the whole room.
func (s *Session) Join(conn Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return fmt.Errorf("%w: join in %s", ErrInvalidTransition, s.state)
	}

	s.conn = conn
	s.log = s.log.With().Str("conn_id", conn.ID()).Logger()
	houseID := s.identity.HouseID
	hub := s.c.hub

	// History is read under the ordering lock so no newMessage can reach
	// this connection ahead of its snapshot.
	hub.Sequence(houseID, func() {
		hub.Join(houseID, conn)
		s.state = StateJoined

		history, err := s.c.store.RecentHistory(s.ctx, houseID, s.c.historyLimit)
		if err != nil {
			observability.IncStoreFailure("history")
			s.log.Error().Err(err).Msg("load chat history")
			hub.SendTo(conn, errorEvent(ReasonHistoryFailed))
		} else {
			if history == nil {
				history = []models.ChatMessage{}
			}
			hub.SendTo(conn, models.Event{Event: models.EventChatHistory, Data: history})
		}

		hub.Broadcast(houseID, s.systemEvent(models.EventUserJoined, "has joined the chat"), "")
	})

	s.c.sessions.Store(conn.ID(), s)
	observability.IncWSActive()
	s.log.Info().Msg("session joined")
	return nil
}

// Dispatch decodes one inbound frame and routes it. Protocol errors are
// reported to this connection only.
func (s *Session) Dispatch(frame []byte) error {
	var in models.InboundFrame
	if err := json.Unmarshal(frame, &in); err != nil {
		s.reply(errorEvent(ReasonMalformedFrame))
		return fmt.Errorf("decode frame: %w", err)
	}

	switch in.Event {
	case models.EventSendMessage:
		var payload models.SendMessagePayload
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &payload); err != nil {
				s.reply(errorEvent(ReasonInvalidMessage))
				return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
			}
		}
		return s.SendMessage(payload.Message)
	case models.EventTyping:
		return s.StartTyping()
	case models.EventStopTyping:
		var houseID string
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &houseID); err != nil {
				l := s.logger()
				l.Debug().Err(err).Msg("stopTyping payload is not a household id")
			}
		}
		return s.StopTyping(houseID)
	case models.EventLeaveRoom:
		s.Leave()
		return nil
	default:
		s.reply(errorEvent(ReasonUnknownEvent))
		return fmt.Errorf("%w: %q", ErrUnknownEvent, in.Event)
	}
}

// SendMessage persists the trimmed text and broadcasts it to the whole room,
// sender included. Nothing is broadcast when validation or the store fails.
func (s *Session) SendMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoined {
		return fmt.Errorf("%w: send in %s", ErrInvalidTransition, s.state)
	}

	body := strings.TrimSpace(text)
	if body == "" {
		s.c.hub.SendTo(s.conn, errorEvent(ReasonInvalidMessage))
		return ErrInvalidMessage
	}

	msg := models.ChatMessage{
		ID:        s.c.newID(),
		HouseID:   s.identity.HouseID,
		UserID:    s.identity.UserID,
		Username:  s.identity.Username,
		Message:   body,
		Timestamp: s.c.now().UTC(),
	}

	ctx, span := tracer.Start(s.ctx, "chat.append",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("house_id", msg.HouseID)),
	)
	defer span.End()

	var err error
	s.c.hub.Sequence(msg.HouseID, func() {
		var stored models.ChatMessage
		stored, err = s.c.store.Append(ctx, msg)
		if err != nil {
			return
		}
		s.c.hub.Broadcast(msg.HouseID, models.Event{Event: models.EventNewMessage, Data: stored}, "")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		observability.IncStoreFailure("append")
		s.log.Error().Err(err).Msg("persist chat message")
		s.c.hub.SendTo(s.conn, errorEvent(ReasonSendFailed))
		return fmt.Errorf("send message: %w", err)
	}

	observability.IncMessagePersisted()
	return nil
}

// StartTyping marks the user typing and tells the rest of the room when the
// user was not already typing.
func (s *Session) StartTyping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoined {
		return fmt.Errorf("%w: typing in %s", ErrInvalidTransition, s.state)
	}

	id := s.identity
	if s.c.typing.StartTyping(id.HouseID, id.UserID, id.Username) {
		s.c.hub.Broadcast(id.HouseID, typingEvent(models.EventUserTyping, id.Username), s.conn.ID())
	}
	return nil
}

// StopTyping clears the user's typing entry. The household named by the
// client is only checked against the session's own.
func (s *Session) StopTyping(houseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoined {
		return fmt.Errorf("%w: stop typing in %s", ErrInvalidTransition, s.state)
	}

	id := s.identity
	if houseID != "" && houseID != id.HouseID {
		s.log.Debug().Str("claimed_house_id", houseID).Msg("stopTyping names a foreign household")
	}
	if s.c.typing.StopTyping(id.HouseID, id.UserID) {
		s.c.hub.Broadcast(id.HouseID, typingEvent(models.EventUserStopTyping, id.Username), s.conn.ID())
	}
	return nil
}

// Leave is an explicit departure. It reports whether this call closed the session.
func (s *Session) Leave() bool {
	return s.close(models.EventUserLeft, "has left the chat")
}

// Disconnect runs the transport-close path. It reports whether this call
// closed the session; later calls are no-ops.
func (s *Session) Disconnect() bool {
	return s.close(models.EventUserDisconnected, "has disconnected")
}

func (s *Session) close(event, text string) bool {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return false
	case StateJoined:
	default:
		s.state = StateClosed
		if s.conn != nil {
			s.conn.Close()
		}
		return true
	}

	id := s.identity
	hub := s.c.hub
	hub.Leave(id.HouseID, s.conn.ID())
	if s.c.typing.StopTyping(id.HouseID, id.UserID) {
		hub.Broadcast(id.HouseID, typingEvent(models.EventUserStopTyping, id.Username), "")
	}
	hub.Broadcast(id.HouseID, s.systemEvent(event, text), "")

	s.state = StateClosed
	s.c.sessions.Delete(s.conn.ID())
	observability.DecWSActive()
	s.conn.Close()
	s.log.Info().Str("event", event).Msg("session closed")
	return true
}

func (s *Session) logger() zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

func (s *Session) reply(event models.Event) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		s.c.hub.SendTo(conn, event)
	}
}

func (s *Session) systemEvent(event, text string) models.Event {
	return models.Event{
		Event: event,
		Data:  models.SystemPayload{Message: s.identity.Username + " " + text},
	}
}

func typingEvent(event, username string) models.Event {
	return models.Event{Event: event, Data: models.TypingPayload{Username: username}}
}

func errorEvent(reason string) models.Event {
	return models.Event{Event: models.EventError, Data: reason}
}
