package ws

import (
	"time"

	"househub-chat/internal/observability"
)

// ConnInfo is the connection metadata attached to lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	HouseID     string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) event(name, reason string) observability.WSEvent {
	var duration int64
	if !i.ConnectedAt.IsZero() {
		duration = time.Since(i.ConnectedAt).Milliseconds()
	}
	return observability.WSEvent{
		Name:       name,
		ConnID:     i.ConnID,
		HouseID:    i.HouseID,
		UserID:     i.UserID,
		IP:         i.IP,
		DurationMS: duration,
		Reason:     reason,
		RequestID:  i.RequestID,
		TraceID:    i.TraceID,
	}
}
