package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"househub-chat/internal/mocks"
)

func TestWSEventsPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	events := NewWSEvents(pub, zerolog.Nop())

	pub.On("Publish", mock.Anything, wsRoutingKey, mock.MatchedBy(func(ev any) bool {
		env, ok := ev.(EventEnvelope)
		return ok && env.EventName == EventWSConnect && env.EventType == "ws_events"
	}), map[string]string{"x-request-id": "req-1"}).Return(nil).Once()

	events.Publish(context.Background(), WSEvent{Name: EventWSConnect, ConnID: "c1", HouseID: "h1", RequestID: "req-1"})
	pub.AssertExpectations(t)
}

func TestWSEventsSwallowsPublishError(t *testing.T) {
	pub := new(mocks.PublisherMock)
	events := NewWSEvents(pub, zerolog.Nop())
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()

	assert.NotPanics(t, func() {
		events.Publish(context.Background(), WSEvent{Name: EventWSError})
	})
	pub.AssertExpectations(t)
}

func TestNilWSEventsIsSafe(t *testing.T) {
	var events *WSEvents
	assert.NotPanics(t, func() {
		events.Publish(context.Background(), WSEvent{Name: EventAuthRejected})
	})
}

func TestBuildHeaders(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/chat", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPFromRequest(req))
}

func TestRequestIDFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/chat", nil)
	assert.NotEmpty(t, RequestIDFromRequest(req))

	req.Header.Set("X-Request-Id", "abc")
	assert.Equal(t, "abc", RequestIDFromRequest(req))
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bad")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}
