package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"househub-chat/internal/auth"
	"househub-chat/internal/presence"
	"househub-chat/internal/repositories"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []frame
	closed bool
	full   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(raw []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		panic(err)
	}
	c.frames = append(c.frames, f)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) all() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) events() []string {
	var names []string
	for _, f := range c.all() {
		names = append(names, f.Event)
	}
	return names
}

func (c *fakeConn) named(event string) []frame {
	var out []frame
	for _, f := range c.all() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// tokenAuth treats "token:<user>:<house>" as valid.
type tokenAuth struct{}

func (tokenAuth) Authenticate(token string) (auth.Identity, error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 || parts[0] != "token" || parts[1] == "" || parts[2] == "" {
		return auth.Identity{}, fmt.Errorf("%w: bad token", auth.ErrUnauthenticated)
	}
	return auth.Identity{UserID: parts[1], HouseID: parts[2], Username: parts[1]}, nil
}

type fixture struct {
	controller *Controller
	hub        *Hub
	typing     *presence.Tracker
	store      repositories.MessageStore
	connSeq    atomic.Int64
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, store repositories.MessageStore) *fixture {
	t.Helper()
	if store == nil {
		store = repositories.NewMemoryMessageStore()
	}
	hub := NewHub(zerolog.Nop())
	typing := presence.NewTracker(time.Minute)
	var ids atomic.Int64
	controller := NewController(tokenAuth{}, hub, store, typing, zerolog.Nop(), Options{
		HistoryLimit: 50,
		Clock:        func() time.Time { return fixedNow },
		NewID:        func() string { return fmt.Sprintf("msg-%d", ids.Add(1)) },
	})
	return &fixture{controller: controller, hub: hub, typing: typing, store: store}
}

// join authenticates and joins a session for user in house.
func (f *fixture) join(t *testing.T, user, house string) (*Session, *fakeConn) {
	t.Helper()
	s := f.controller.NewSession()
	require.NoError(t, s.Authenticate("token:"+user+":"+house))
	conn := newFakeConn(fmt.Sprintf("conn-%s-%d", user, f.connSeq.Add(1)))
	require.NoError(t, s.Join(conn))
	return s, conn
}

func decodeString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func decodeInto[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
