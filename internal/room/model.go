package room

import (
	"net/http"

	"github.com/innohassle/room-booking-backend/internal/pkg/apperror"
)

var (
	ErrNotFound = apperror.New(http.StatusNotFound, "room not found")
)

// AccessLevel controls who may book a room.
type AccessLevel string

const (
	AccessYellow  AccessLevel = "yellow"
	AccessRed     AccessLevel = "red"
	AccessSpecial AccessLevel = "special"
	AccessNone    AccessLevel = "none"
)

// Room is a bookable space backed by an Exchange resource mailbox.
// The resource email uniquely identifies the room across the whole system.
type Room struct {
	ID              string
	Title           string
	ShortName       string
	ResourceEmail   string
	Capacity        int
	AccessLevel     AccessLevel
	RestrictDaytime bool
}

// AccessGrant allows a single user to book a room outside the general rules.
type AccessGrant struct {
	RoomID string
	Email  string
	Reason string
}
