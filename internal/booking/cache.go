package booking

import (
	"sort"
	"sync"
	"time"

	"github.com/innohassle/room-booking-backend/internal/clock"
	"github.com/innohassle/room-booking-backend/internal/metrics"
)

// maxSlotsPerRoom caps cached windows per room; the oldest slot is evicted
// beyond that. Tunable constant, deliberately not a config key.
const maxSlotsPerRoom = 10

// CacheSlot is one cached fetch result: the bookings the backend returned
// for a covered window. Bookings may straddle the window edges exactly as
// the backend returned them.
type CacheSlot struct {
	Bookings     []Booking
	CoveredStart time.Time
	CoveredEnd   time.Time
	// InsertedAt is monotonic; TTL and eviction decisions use it.
	InsertedAt time.Time
}

// WindowCache stores per-room slots and serves a window request only from a
// slot that fully covers it. Partial overlap is a miss: bookings inside the
// uncovered gap would otherwise be invisible.
type WindowCache struct {
	ttl  time.Duration
	clk  clock.Clock
	name string

	mu    sync.Mutex
	slots map[string][]*CacheSlot
}

// NewWindowCache creates a cache with the given TTL. The name labels the
// cache in metrics ("calendar", "freebusy").
func NewWindowCache(ttl time.Duration, clk clock.Clock, name string) *WindowCache {
	return &WindowCache{
		ttl:   ttl,
		clk:   clk,
		name:  name,
		slots: make(map[string][]*CacheSlot),
	}
}

// Put stores a fetch result for one room. The bookings are copied in.
func (c *WindowCache) Put(roomID string, bookings []Booking, start, end time.Time) {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(roomID, bookings, start, end, now)
}

// PutMany stores fetch results for several rooms atomically.
func (c *WindowCache) PutMany(byRoom map[string][]Booking, start, end time.Time) {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for roomID, bookings := range byRoom {
		c.put(roomID, bookings, start, end, now)
	}
}

func (c *WindowCache) put(roomID string, bookings []Booking, start, end time.Time, now time.Time) {
	slot := &CacheSlot{
		Bookings:     cloneBookings(bookings),
		CoveredStart: start,
		CoveredEnd:   end,
		InsertedAt:   now,
	}
	c.slots[roomID] = append(c.slots[roomID], slot)
	c.pruneExpired(roomID, now)
	c.evictOldest(roomID)
}

func (c *WindowCache) pruneExpired(roomID string, now time.Time) {
	slots := c.slots[roomID]
	valid := slots[:0]
	for _, s := range slots {
		if s.InsertedAt.Add(c.ttl).After(now) {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		delete(c.slots, roomID)
		return
	}
	c.slots[roomID] = valid
}

func (c *WindowCache) evictOldest(roomID string) {
	slots := c.slots[roomID]
	if len(slots) <= maxSlotsPerRoom {
		return
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].InsertedAt.Before(slots[j].InsertedAt)
	})
	c.slots[roomID] = slots[len(slots)-maxSlotsPerRoom:]
}

// Get returns a copy of the first live slot covering [start, end], or nil.
// Expired slots for the room are pruned as a side effect.
func (c *WindowCache) Get(roomID string, start, end time.Time) *CacheSlot {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(roomID, start, end, now)
}

func (c *WindowCache) get(roomID string, start, end time.Time, now time.Time) *CacheSlot {
	if _, ok := c.slots[roomID]; ok {
		c.pruneExpired(roomID, now)
	}
	for _, s := range c.slots[roomID] {
		if !s.CoveredStart.After(start) && !s.CoveredEnd.Before(end) {
			metrics.CacheHits.WithLabelValues(c.name).Inc()
			return &CacheSlot{
				Bookings:     cloneBookings(s.Bookings),
				CoveredStart: s.CoveredStart,
				CoveredEnd:   s.CoveredEnd,
				InsertedAt:   s.InsertedAt,
			}
		}
	}
	metrics.CacheMisses.WithLabelValues(c.name).Inc()
	return nil
}

// GetMulti looks up several rooms at once, returning hits keyed by room id
// and the set of rooms that missed.
func (c *WindowCache) GetMulti(roomIDs []string, start, end time.Time) (map[string][]Booking, map[string]struct{}) {
	now := c.clk.Now()
	hits := make(map[string][]Booking)
	misses := make(map[string]struct{})
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, roomID := range roomIDs {
		if slot := c.get(roomID, start, end, now); slot != nil {
			hits[roomID] = slot.Bookings
		} else {
			misses[roomID] = struct{}{}
		}
	}
	return hits, misses
}

// AddBooking patches b into every slot of its room that overlaps the booking
// interval, keeping slots sorted by start. Idempotent: a booking already
// present (by identity) is not appended again. Used to make a fresh mutation
// visible before the next refetch.
func (c *WindowCache) AddBooking(b Booking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, slot := range c.slots[b.RoomID] {
		if !slot.CoveredStart.Before(b.End) || !b.Start.Before(slot.CoveredEnd) {
			continue
		}
		dup := false
		for i := range slot.Bookings {
			if slot.Bookings[i].SameIdentity(&b) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		slot.Bookings = append(slot.Bookings, b.Clone())
		sort.SliceStable(slot.Bookings, func(i, j int) bool {
			return slot.Bookings[i].Start.Before(slot.Bookings[j].Start)
		})
	}
}

// RemoveBooking strips b from the cache. With an OutlookID the search spans
// all rooms (the item may have been cached under stale room data); anonymous
// free/busy bookings are matched by (room, start, end) in their room only.
func (c *WindowCache) RemoveBooking(b Booking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.OutlookID != "" {
		for _, slots := range c.slots {
			for _, slot := range slots {
				slot.Bookings = removeByID(slot.Bookings, b.OutlookID)
			}
		}
		return
	}
	for _, slot := range c.slots[b.RoomID] {
		kept := slot.Bookings[:0]
		for i := range slot.Bookings {
			cur := &slot.Bookings[i]
			if cur.RoomID == b.RoomID && cur.Start.Equal(b.Start) && cur.End.Equal(b.End) {
				continue
			}
			kept = append(kept, *cur)
		}
		slot.Bookings = kept
	}
}

func removeByID(bookings []Booking, outlookID string) []Booking {
	kept := bookings[:0]
	for i := range bookings {
		if bookings[i].OutlookID == outlookID {
			continue
		}
		kept = append(kept, bookings[i])
	}
	return kept
}

func cloneBookings(in []Booking) []Booking {
	out := make([]Booking, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
