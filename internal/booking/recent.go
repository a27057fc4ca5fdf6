package booking

import (
	"sync"
	"time"

	"github.com/innohassle/room-booking-backend/internal/clock"
)

// recentEntry pairs an overlay booking with the monotonic time it was marked.
type recentEntry struct {
	ts      time.Time
	booking Booking
}

// RecentOverlay bridges the backend's propagation lag after mutations.
// Created, updated and canceled items are remembered for a short TTL and
// reconciled into read results, giving the mutating caller read-your-writes
// until the backend catches up. Every operation prunes expired entries first.
type RecentOverlay struct {
	ttl time.Duration
	clk clock.Clock

	mu       sync.Mutex
	canceled map[string]time.Time
	created  map[string]recentEntry
	updated  map[string]recentEntry
}

func NewRecentOverlay(ttl time.Duration, clk clock.Clock) *RecentOverlay {
	return &RecentOverlay{
		ttl:      ttl,
		clk:      clk,
		canceled: make(map[string]time.Time),
		created:  make(map[string]recentEntry),
		updated:  make(map[string]recentEntry),
	}
}

func (r *RecentOverlay) prune(now time.Time) {
	for id, ts := range r.canceled {
		if now.Sub(ts) >= r.ttl {
			delete(r.canceled, id)
		}
	}
	for id, e := range r.created {
		if now.Sub(e.ts) >= r.ttl {
			delete(r.created, id)
		}
	}
	for id, e := range r.updated {
		if now.Sub(e.ts) >= r.ttl {
			delete(r.updated, id)
		}
	}
}

func (r *RecentOverlay) MarkCanceled(itemID string) {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	r.canceled[itemID] = now
}

func (r *RecentOverlay) IsCanceled(itemID string) bool {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	_, ok := r.canceled[itemID]
	return ok
}

// Canceled returns the live set of recently canceled item ids.
func (r *RecentOverlay) Canceled() map[string]struct{} {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	out := make(map[string]struct{}, len(r.canceled))
	for id := range r.canceled {
		out[id] = struct{}{}
	}
	return out
}

func (r *RecentOverlay) MarkCreated(itemID string, b Booking) {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	r.created[itemID] = recentEntry{ts: now, booking: b.Clone()}
}

func (r *RecentOverlay) IsCreated(itemID string) bool {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	_, ok := r.created[itemID]
	return ok
}

// Created returns copies of the live recently-created bookings by item id.
func (r *RecentOverlay) Created() map[string]Booking {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	out := make(map[string]Booking, len(r.created))
	for id, e := range r.created {
		out[id] = e.booking.Clone()
	}
	return out
}

func (r *RecentOverlay) MarkUpdated(itemID string, b Booking) {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	r.updated[itemID] = recentEntry{ts: now, booking: b.Clone()}
}

func (r *RecentOverlay) IsUpdated(itemID string) bool {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	_, ok := r.updated[itemID]
	return ok
}

// UpdatedEntry returns the live updated booking and its mark time for id.
func (r *RecentOverlay) UpdatedEntry(itemID string) (Booking, time.Time, bool) {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	e, ok := r.updated[itemID]
	if !ok {
		return Booking{}, time.Time{}, false
	}
	return e.booking.Clone(), e.ts, true
}
