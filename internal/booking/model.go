package booking

import (
	"fmt"
	"net/http"
	"time"

	"github.com/innohassle/room-booking-backend/internal/exchange"
	"github.com/innohassle/room-booking-backend/internal/pkg/apperror"
)

var (
	ErrNotFound         = apperror.New(http.StatusNotFound, "booking not found")
	ErrRoomNotFound     = apperror.New(http.StatusNotFound, "room not found")
	ErrNotParticipant   = apperror.New(http.StatusForbidden, "you are not a participant of the booking")
	ErrDeclinedByRoom   = apperror.New(http.StatusForbidden, "booking was declined by the room")
	ErrInvalidTimeRange = apperror.New(http.StatusBadRequest, "start time must be before end time")
)

// Status is an attendee's response to the invitation.
type Status string

const (
	StatusAccept    Status = "Accept"
	StatusTentative Status = "Tentative"
	StatusDecline   Status = "Decline"
	StatusUnknown   Status = "Unknown"
)

// Attendee is a booking participant. AssociatedRoomID is set exactly when
// the attendee email is a room resource mailbox.
type Attendee struct {
	Email            string
	Status           Status
	AssociatedRoomID string
}

// Booking is one occupied interval of a room, in MSK. Values are immutable
// by convention: the cache hands out copies and nothing mutates one in place.
//
// OutlookID is empty for bookings assembled from the free/busy view, which
// carries no item ids.
type Booking struct {
	RoomID    string
	Title     string
	Start     time.Time
	End       time.Time
	OutlookID string
	Attendees []Attendee
}

// ID derives a stable identifier from the room and interval. Free/busy
// bookings have no backend id, so this is the only identity they carry.
func (b *Booking) ID() string {
	return fmt.Sprintf("%s-%d-%d", b.RoomID, b.Start.Unix(), b.End.Unix())
}

// Clone returns a deep copy.
func (b *Booking) Clone() Booking {
	out := *b
	if b.Attendees != nil {
		out.Attendees = make([]Attendee, len(b.Attendees))
		copy(out.Attendees, b.Attendees)
	}
	return out
}

// SameIdentity reports whether two bookings denote the same backend item:
// by OutlookID when both carry one, by (room, start, end) otherwise.
func (b *Booking) SameIdentity(other *Booking) bool {
	if b.OutlookID != "" && other.OutlookID != "" {
		return b.OutlookID == other.OutlookID
	}
	return b.RoomID == other.RoomID && b.Start.Equal(other.Start) && b.End.Equal(other.End)
}

func statusFromResponse(rt exchange.ResponseType) Status {
	switch rt {
	case exchange.ResponseAccept:
		return StatusAccept
	case exchange.ResponseTentative:
		return StatusTentative
	case exchange.ResponseDecline:
		return StatusDecline
	default:
		return StatusUnknown
	}
}
