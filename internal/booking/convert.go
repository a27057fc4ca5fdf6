package booking

import (
	"regexp"

	"github.com/innohassle/room-booking-backend/internal/exchange"
	"github.com/innohassle/room-booking-backend/internal/room"
	"github.com/innohassle/room-booking-backend/internal/tz"
)

// locationEmailRe extracts the organizer email from the location string of a
// free/busy event. Create writes locations as "<room title> (<email>)", and
// this is the only channel by which the organizer reaches the free/busy path.
var locationEmailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@(?:innopolis\.university|innopolis\.ru)`)

// itemToBooking converts a calendar item into a booking for roomID. Returns
// false when the item has no attendee for that room's resource mailbox, or
// when the room declined: such items are not bookings of the room.
func itemToBooking(reg *room.Registry, item *exchange.Item, roomID string) (Booking, bool) {
	rm := reg.ByID(roomID)
	if rm == nil {
		return Booking{}, false
	}
	idx := exchange.AttendeeIndex(item)
	roomAttendee, ok := idx[rm.ResourceEmail]
	if !ok || roomAttendee.ResponseType == exchange.ResponseDecline {
		return Booking{}, false
	}

	attendees := make([]Attendee, 0, len(idx))
	for _, a := range item.RequiredAttendees {
		if a.Email == "" {
			continue
		}
		att := Attendee{Email: a.Email, Status: statusFromResponse(a.ResponseType)}
		if attRoom := reg.ByEmail(a.Email); attRoom != nil {
			att.AssociatedRoomID = attRoom.ID
		}
		attendees = append(attendees, att)
	}

	title := item.Subject
	if title == "" {
		title = "Busy"
	}
	return Booking{
		RoomID:    roomID,
		Title:     title,
		Start:     tz.ToMSK(item.Start),
		End:       tz.ToMSK(item.End),
		OutlookID: item.ID,
		Attendees: attendees,
	}, true
}

// firstRoomID returns the room id of the first attendee that is a room
// resource mailbox, or "".
func firstRoomID(reg *room.Registry, item *exchange.Item) string {
	for _, a := range item.RequiredAttendees {
		if rm := reg.ByEmail(a.Email); rm != nil {
			return rm.ID
		}
	}
	return ""
}

// eventToBooking converts a free/busy event for a room. Free/busy events
// carry no item id and no attendee list; the room attendee is synthesized
// and the organizer, when the location string carries one, joins it.
func eventToBooking(rm *room.Room, ev exchange.Event) Booking {
	title := ev.Subject
	if title == "" {
		title = "Busy"
	}
	attendees := []Attendee{{
		Email:            rm.ResourceEmail,
		Status:           StatusAccept,
		AssociatedRoomID: rm.ID,
	}}
	if email := locationEmailRe.FindString(ev.Location); email != "" {
		attendees = append(attendees, Attendee{Email: email, Status: StatusUnknown})
	}
	return Booking{
		RoomID:    rm.ID,
		Title:     title,
		Start:     tz.ToMSK(ev.Start),
		End:       tz.ToMSK(ev.End),
		Attendees: attendees,
	}
}

// AnnotateRelated reports, per booking, whether the viewer is an attendee.
// Pure: it never touches the bookings, so cached copies stay clean.
func AnnotateRelated(bookings []Booking, viewerEmail string) []bool {
	out := make([]bool, len(bookings))
	if viewerEmail == "" {
		return out
	}
	for i := range bookings {
		for _, a := range bookings[i].Attendees {
			if a.Email == viewerEmail {
				out[i] = true
				break
			}
		}
	}
	return out
}
