package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"househub-chat/internal/auth"
	"househub-chat/internal/models"
	"househub-chat/internal/presence"
	"househub-chat/internal/repositories"
)

const defaultHistoryLimit = 50

// Authenticator derives an identity from a handshake credential.
type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

// Options tunes a Controller. Zero values pick defaults.
type Options struct {
	HistoryLimit int
	Clock        func() time.Time
	NewID        func() string
}

// Controller creates sessions and owns the collaborators they share.
type Controller struct {
	authn        Authenticator
	hub          *Hub
	store        repositories.MessageStore
	typing       *presence.Tracker
	log          zerolog.Logger
	historyLimit int
	now          func() time.Time
	newID        func() string

	sessions sync.Map // connID -> *Session, joined sessions only
}

// NewController wires the session collaborators.
func NewController(authn Authenticator, hub *Hub, store repositories.MessageStore, typing *presence.Tracker, log zerolog.Logger, opts Options) *Controller {
	c := &Controller{
		authn:        authn,
		hub:          hub,
		store:        store,
		typing:       typing,
		log:          log,
		historyLimit: opts.HistoryLimit,
		now:          opts.Clock,
		newID:        opts.NewID,
	}
	if c.historyLimit <= 0 {
		c.historyLimit = defaultHistoryLimit
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Hub returns the room registry.
func (c *Controller) Hub() *Hub {
	return c.hub
}

// ActiveSessions counts joined sessions.
func (c *Controller) ActiveSessions() int {
	n := 0
	c.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// OnTypingExpired tells the rest of the household that a typer timed out.
// The typer's own connections are skipped, and nothing is sent when the user
// started typing again after the sweep.
func (c *Controller) OnTypingExpired(e presence.Expired) {
	c.typing.ConfirmExpired(e, func() {
		typer := c.userConns(e.HouseID, e.UserID)
		c.hub.BroadcastExcept(e.HouseID, typingEvent(models.EventUserStopTyping, e.Username), func(connID string) bool {
			_, skip := typer[connID]
			return skip
		})
	})
}

// userConns returns the ids of the user's joined connections in the household.
func (c *Controller) userConns(houseID, userID string) map[string]struct{} {
	ids := make(map[string]struct{})
	c.sessions.Range(func(key, v any) bool {
		// identity is fixed before a session is stored.
		id := v.(*Session).identity
		if id.HouseID == houseID && id.UserID == userID {
			ids[key.(string)] = struct{}{}
		}
		return true
	})
	return ids
}

// Shutdown disconnects every joined session.
func (c *Controller) Shutdown() {
	c.sessions.Range(func(_, v any) bool {
		v.(*Session).Disconnect()
		return true
	})
}
