// Package presence tracks ephemeral per-household typing state.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Expired describes an entry removed by the sweeper.
type Expired struct {
	HouseID  string
	UserID   string
	Username string
}

type entry struct {
	username  string
	expiresAt time.Time
}

type household struct {
	mu     sync.Mutex
	typers map[string]entry
}

// Tracker holds typing entries keyed by household. Each household has its own
// lock; operations on different households never contend.
type Tracker struct {
	ttl        time.Duration
	now        func() time.Time
	households sync.Map // houseID -> *household
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker whose entries expire ttl after the last refresh.
func NewTracker(ttl time.Duration, opts ...Option) *Tracker {
	t := &Tracker{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TTL reports the expiry window.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

func (t *Tracker) household(houseID string) *household {
	if h, ok := t.households.Load(houseID); ok {
		return h.(*household)
	}
	h, _ := t.households.LoadOrStore(houseID, &household{typers: make(map[string]entry)})
	return h.(*household)
}

// StartTyping inserts or refreshes the user's entry. It reports whether the
// user was not already typing, i.e. whether peers need to be told.
func (t *Tracker) StartTyping(houseID, userID, username string) bool {
	h := t.household(houseID)
	now := t.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.typers[userID]
	h.typers[userID] = entry{username: username, expiresAt: now.Add(t.ttl)}
	return !ok || !now.Before(prev.expiresAt)
}

// StopTyping removes the user's entry. It reports whether a live entry was removed.
func (t *Tracker) StopTyping(houseID, userID string) bool {
	h := t.household(houseID)
	now := t.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.typers[userID]
	if !ok {
		return false
	}
	delete(h.typers, userID)
	return now.Before(prev.expiresAt)
}

// IsTyping reports whether the user has a non-expired entry.
func (t *Tracker) IsTyping(houseID, userID string) bool {
	h := t.household(houseID)
	now := t.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.typers[userID]
	return ok && now.Before(e.expiresAt)
}

// CurrentTypers returns the sorted user ids with non-expired entries.
func (t *Tracker) CurrentTypers(houseID string) []string {
	h := t.household(houseID)
	now := t.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	users := make([]string, 0, len(h.typers))
	for userID, e := range h.typers {
		if now.Before(e.expiresAt) {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users
}

// Sweep drops every expired entry and returns what it removed.
func (t *Tracker) Sweep() []Expired {
	now := t.now()
	var expired []Expired
	t.households.Range(func(key, value any) bool {
		houseID := key.(string)
		h := value.(*household)

		h.mu.Lock()
		for userID, e := range h.typers {
			if !now.Before(e.expiresAt) {
				delete(h.typers, userID)
				expired = append(expired, Expired{HouseID: houseID, UserID: userID, Username: e.username})
			}
		}
		h.mu.Unlock()
		return true
	})
	return expired
}

// ConfirmExpired runs announce under the household lock if the user still
// has no live entry, and reports whether it did. A StartTyping that lands
// between Sweep and the announcement wins, so a stale stop never follows a
// fresh start.
func (t *Tracker) ConfirmExpired(e Expired, announce func()) bool {
	h := t.household(e.HouseID)
	now := t.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.typers[e.UserID]; ok && now.Before(cur.expiresAt) {
		return false
	}
	announce()
	return true
}

// Run sweeps every interval until ctx is done, calling onExpire for each
// removed entry.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, onExpire func(Expired)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range t.Sweep() {
				if onExpire != nil {
					onExpire(e)
				}
			}
		}
	}
}
