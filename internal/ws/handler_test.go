package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"househub-chat/internal/auth"
	"househub-chat/internal/chat"
	"househub-chat/internal/models"
	"househub-chat/internal/presence"
	"househub-chat/internal/repositories"
)

const testSecret = "handler-secret"

type testServer struct {
	*httptest.Server
	store      *repositories.MemoryMessageStore
	controller *chat.Controller
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repositories.NewMemoryMessageStore()
	controller := chat.NewController(
		auth.NewJWTAuthenticator(testSecret),
		chat.NewHub(zerolog.Nop()),
		store,
		presence.NewTracker(time.Minute),
		zerolog.Nop(),
		chat.Options{HistoryLimit: 50},
	)
	handler := NewHandler(controller, nil, zerolog.Nop(), 16)

	r := gin.New()
	r.GET("/ws/chat", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		controller.Shutdown()
		srv.Close()
	})
	return &testServer{Server: srv, store: store, controller: controller}
}

func token(t *testing.T, user, house string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userID":   user,
		"houseID":  house,
		"username": user,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chat"
}

func (s *testServer) dial(t *testing.T, header http.Header, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := s.wsURL()
	if query != "" {
		url += "?token=" + query
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// connect joins user to house and consumes the join frames.
func (s *testServer) connect(t *testing.T, user, house string) *websocket.Conn {
	t.Helper()
	conn, _, err := s.dial(t, nil, token(t, user, house))
	require.NoError(t, err)
	assert.Equal(t, models.EventChatHistory, readFrame(t, conn).Event)
	assert.Equal(t, models.EventUserJoined, readFrame(t, conn).Event)
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	srv := newTestServer(t)

	for name, dial := range map[string]func() (*websocket.Conn, *http.Response, error){
		"invalid query token": func() (*websocket.Conn, *http.Response, error) { return srv.dial(t, nil, "invalidToken") },
		"missing token":       func() (*websocket.Conn, *http.Response, error) { return srv.dial(t, nil, "") },
		"wrong secret header": func() (*websocket.Conn, *http.Response, error) {
			bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userID": "u", "houseID": "h1"}).SignedString([]byte("nope"))
			require.NoError(t, err)
			return srv.dial(t, http.Header{"Authorization": {"Bearer " + bad}}, "")
		},
	} {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := dial()
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			body, readErr := io.ReadAll(resp.Body)
			require.NoError(t, readErr)
			assert.JSONEq(t, `{"error":"Authentication error"}`, string(body))
		})
	}
	assert.Zero(t, srv.controller.ActiveSessions())
}

func TestHandshakeAcceptsAuthorizationHeader(t *testing.T) {
	srv := newTestServer(t)
	conn, _, err := srv.dial(t, http.Header{"Authorization": {"Bearer " + token(t, "alice", "h1")}}, "")
	require.NoError(t, err)

	history := readFrame(t, conn)
	assert.Equal(t, models.EventChatHistory, history.Event)
	assert.JSONEq(t, `[]`, string(history.Data))

	joined := readFrame(t, conn)
	assert.Equal(t, models.EventUserJoined, joined.Event)
	assert.JSONEq(t, `{"message":"alice has joined the chat"}`, string(joined.Data))
}

func TestSendMessageReachesWholeHousehold(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.connect(t, "alice", "h1")
	bob := srv.connect(t, "bob", "h1")
	assert.Equal(t, models.EventUserJoined, readFrame(t, alice).Event)

	send(t, alice, models.EventSendMessage, models.SendMessagePayload{Message: "Test message"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		f := readFrame(t, conn)
		require.Equal(t, models.EventNewMessage, f.Event)
		var msg models.ChatMessage
		require.NoError(t, json.Unmarshal(f.Data, &msg))
		assert.Equal(t, "alice", msg.Username)
		assert.Equal(t, "Test message", msg.Message)
	}

	history, err := srv.store.RecentHistory(context.Background(), "h1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Test message", history[0].Message)
}

func TestEmptyMessageOnlyErrorsSender(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.connect(t, "alice", "h1")
	bob := srv.connect(t, "bob", "h1")
	readFrame(t, alice)

	send(t, alice, models.EventSendMessage, models.SendMessagePayload{Message: ""})
	f := readFrame(t, alice)
	require.Equal(t, models.EventError, f.Event)
	assert.JSONEq(t, `"Invalid message data"`, string(f.Data))

	send(t, bob, models.EventSendMessage, models.SendMessagePayload{Message: "ping"})
	next := readFrame(t, bob)
	require.Equal(t, models.EventNewMessage, next.Event, "bob saw nothing for the rejected send")
	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(next.Data, &msg))
	assert.Equal(t, "ping", msg.Message)

	history, err := srv.store.RecentHistory(context.Background(), "h1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDisconnectIsAnnounced(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.connect(t, "alice", "h1")
	bob := srv.connect(t, "bob", "h1")
	readFrame(t, alice)

	send(t, bob, models.EventTyping, nil)
	typing := readFrame(t, alice)
	require.Equal(t, models.EventUserTyping, typing.Event)
	assert.JSONEq(t, `{"username":"bob"}`, string(typing.Data))

	require.NoError(t, bob.Close())

	stop := readFrame(t, alice)
	assert.Equal(t, models.EventUserStopTyping, stop.Event)
	left := readFrame(t, alice)
	require.Equal(t, models.EventUserDisconnected, left.Event)
	assert.JSONEq(t, `{"message":"bob has disconnected"}`, string(left.Data))
}

func TestHouseholdsDoNotLeak(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.connect(t, "alice", "h1")
	eve := srv.connect(t, "eve", "h2")

	send(t, alice, models.EventSendMessage, models.SendMessagePayload{Message: "secret"})
	require.Equal(t, models.EventNewMessage, readFrame(t, alice).Event)

	send(t, eve, models.EventSendMessage, models.SendMessagePayload{Message: "mine"})
	f := readFrame(t, eve)
	require.Equal(t, models.EventNewMessage, f.Event)
	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	assert.Equal(t, "mine", msg.Message)
	assert.Equal(t, "h2", msg.HouseID)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/chat?token=abc", nil)
	assert.Equal(t, "abc", tokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "Bearer xyz", tokenFromRequest(req))
}
