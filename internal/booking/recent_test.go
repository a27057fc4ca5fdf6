package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innohassle/room-booking-backend/internal/clock"
)

func TestRecentOverlayCanceled(t *testing.T) {
	clk := clock.NewFake(msk(10, 12, 0))
	o := NewRecentOverlay(5*time.Minute, clk)

	assert.False(t, o.IsCanceled("item-1"))
	o.MarkCanceled("item-1")
	assert.True(t, o.IsCanceled("item-1"))
	assert.Contains(t, o.Canceled(), "item-1")

	clk.Advance(5*time.Minute - time.Second)
	assert.True(t, o.IsCanceled("item-1"))

	clk.Advance(2 * time.Second)
	assert.False(t, o.IsCanceled("item-1"))
	assert.Empty(t, o.Canceled())
}

func TestRecentOverlayCreated(t *testing.T) {
	clk := clock.NewFake(msk(10, 12, 0))
	o := NewRecentOverlay(5*time.Minute, clk)

	b := testBooking("313", msk(10, 14, 0), msk(10, 15, 0))
	b.OutlookID = "item-1"
	o.MarkCreated("item-1", b)

	require.True(t, o.IsCreated("item-1"))
	got := o.Created()["item-1"]
	assert.Equal(t, "313", got.RoomID)

	// Returned copies are detached from the overlay's state.
	got.Title = "mutated"
	got.Attendees[0].Email = "mutated@innopolis.ru"
	again := o.Created()["item-1"]
	assert.Equal(t, "Meeting", again.Title)
	assert.Equal(t, "room@innopolis.ru", again.Attendees[0].Email)

	clk.Advance(6 * time.Minute)
	assert.False(t, o.IsCreated("item-1"))
}

func TestRecentOverlayUpdated(t *testing.T) {
	start := msk(10, 12, 0)
	clk := clock.NewFake(start)
	o := NewRecentOverlay(5*time.Minute, clk)

	b := testBooking("313", msk(10, 14, 0), msk(10, 15, 0))
	b.OutlookID = "item-1"
	o.MarkUpdated("item-1", b)

	got, ts, ok := o.UpdatedEntry("item-1")
	require.True(t, ok)
	assert.Equal(t, start, ts)
	assert.Equal(t, "item-1", got.OutlookID)

	// A later mark replaces the entry and refreshes its timestamp.
	clk.Advance(time.Minute)
	moved := b
	moved.Start = msk(10, 16, 0)
	o.MarkUpdated("item-1", moved)
	got, ts, ok = o.UpdatedEntry("item-1")
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Minute), ts)
	assert.Equal(t, msk(10, 16, 0), got.Start)

	clk.Advance(5 * time.Minute)
	_, _, ok = o.UpdatedEntry("item-1")
	assert.False(t, ok)
}

func TestRecentOverlayIndependentMaps(t *testing.T) {
	clk := clock.NewFake(msk(10, 12, 0))
	o := NewRecentOverlay(5*time.Minute, clk)

	b := testBooking("313", msk(10, 14, 0), msk(10, 15, 0))
	o.MarkCreated("item-1", b)
	o.MarkCanceled("item-1")

	// Cancel does not erase the created entry; readers resolve the conflict.
	assert.True(t, o.IsCreated("item-1"))
	assert.True(t, o.IsCanceled("item-1"))
	assert.False(t, o.IsUpdated("item-1"))
}
