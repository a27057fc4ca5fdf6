package http

import (
	"github.com/innohassle/room-booking-backend/internal/room"
)

type RoomResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	ShortName       string `json:"short_name,omitempty"`
	Capacity        int    `json:"capacity"`
	AccessLevel     string `json:"access_level"`
	RestrictDaytime bool   `json:"restrict_daytime"`
	// MyAccess marks rooms the caller is explicitly granted access to.
	MyAccess bool `json:"my_access"`
}

func NewRoomResponse(r *room.Room, hasAccess bool) RoomResponse {
	return RoomResponse{
		ID:              r.ID,
		Title:           r.Title,
		ShortName:       r.ShortName,
		Capacity:        r.Capacity,
		AccessLevel:     string(r.AccessLevel),
		RestrictDaytime: r.RestrictDaytime,
		MyAccess:        hasAccess,
	}
}
