package chat

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"househub-chat/internal/models"
	"househub-chat/internal/observability"
)

// Conn is the outbound half of a live connection.
// Send must not block; it reports false when the frame was not queued.
type Conn interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

type room struct {
	mu      sync.RWMutex
	members map[string]Conn

	// seq serializes append+broadcast so delivery order equals persist order.
	seq sync.Mutex
}

// Hub maps household ids to their joined connections. Each household has its
// own locks; operations on different households never contend.
type Hub struct {
	rooms    sync.Map // houseID -> *room
	memberOf sync.Map // connID -> houseID
	log      zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{log: log}
}

func (h *Hub) room(houseID string) *room {
	if r, ok := h.rooms.Load(houseID); ok {
		return r.(*room)
	}
	r, _ := h.rooms.LoadOrStore(houseID, &room{members: make(map[string]Conn)})
	return r.(*room)
}

// Join adds conn to the household room. Joining twice is a no-op; a
// connection already in another room is moved.
func (h *Hub) Join(houseID string, conn Conn) {
	if prev, ok := h.memberOf.Load(conn.ID()); ok && prev.(string) != houseID {
		h.Leave(prev.(string), conn.ID())
	}

	r := h.room(houseID)
	r.mu.Lock()
	r.members[conn.ID()] = conn
	r.mu.Unlock()
	h.memberOf.Store(conn.ID(), houseID)
}

// Leave removes the connection from the room if present.
func (h *Hub) Leave(houseID, connID string) {
	v, ok := h.rooms.Load(houseID)
	if !ok {
		return
	}
	r := v.(*room)
	r.mu.Lock()
	delete(r.members, connID)
	r.mu.Unlock()
	h.memberOf.CompareAndDelete(connID, houseID)
}

// Members returns the sorted connection ids joined to the household.
func (h *Hub) Members(houseID string) []string {
	v, ok := h.rooms.Load(houseID)
	if !ok {
		return []string{}
	}
	r := v.(*room)
	r.mu.RLock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Broadcast delivers event to every member of the household except the
// connection id in exclude (empty excludes no one). It returns the number of
// connections the frame was queued for.
func (h *Hub) Broadcast(houseID string, event models.Event, exclude string) int {
	return h.BroadcastExcept(houseID, event, func(id string) bool { return id == exclude })
}

// BroadcastExcept delivers event to every member for which skip reports false.
func (h *Hub) BroadcastExcept(houseID string, event models.Event, skip func(connID string) bool) int {
	v, ok := h.rooms.Load(houseID)
	if !ok {
		return 0
	}
	frame, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("event", event.Event).Msg("encode broadcast")
		return 0
	}

	r := v.(*room)
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for id, conn := range r.members {
		if skip != nil && skip(id) {
			continue
		}
		if conn.Send(frame) {
			delivered++
			continue
		}
		observability.IncWSDroppedFrame()
		h.log.Warn().Str("conn_id", id).Str("house_id", houseID).Str("event", event.Event).Msg("frame dropped")
	}
	return delivered
}

// SendTo delivers event to a single connection.
func (h *Hub) SendTo(conn Conn, event models.Event) bool {
	frame, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("event", event.Event).Msg("encode frame")
		return false
	}
	if !conn.Send(frame) {
		observability.IncWSDroppedFrame()
		return false
	}
	return true
}

// Sequence runs fn while holding the household's ordering lock.
func (h *Hub) Sequence(houseID string, fn func()) {
	r := h.room(houseID)
	r.seq.Lock()
	defer r.seq.Unlock()
	fn()
}
