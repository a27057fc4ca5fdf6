package http

import (
	"time"

	"github.com/innohassle/room-booking-backend/internal/booking"
)

// ListBookingsRequest defines query parameters for listing bookings.
// Without explicit bounds the window spans a week back and two weeks ahead.
type ListBookingsRequest struct {
	RoomIDs    []string   `form:"room_id"`
	Start      *time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End        *time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	IncludeRed bool       `form:"include_red"`
}

// Validate performs custom validation for ListBookingsRequest.
func (r *ListBookingsRequest) Validate() error {
	if r.Start != nil && r.End != nil && !r.Start.Before(*r.End) {
		return booking.ErrInvalidTimeRange
	}
	return nil
}

type AttendeeResponse struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	RoomID string `json:"room_id,omitempty"`
}

type BookingResponse struct {
	ID        string             `json:"id"`
	RoomID    string             `json:"room_id"`
	Title     string             `json:"title"`
	Start     time.Time          `json:"start"`
	End       time.Time          `json:"end"`
	OutlookID string             `json:"outlook_id,omitempty"`
	Attendees []AttendeeResponse `json:"attendees"`
	// RelatedToMe is present on list responses for authenticated callers.
	RelatedToMe *bool `json:"related_to_me,omitempty"`
}

func NewBookingResponse(b *booking.Booking) BookingResponse {
	attendees := make([]AttendeeResponse, len(b.Attendees))
	for i, a := range b.Attendees {
		attendees[i] = AttendeeResponse{
			Email:  a.Email,
			Status: string(a.Status),
			RoomID: a.AssociatedRoomID,
		}
	}
	return BookingResponse{
		ID:        b.ID(),
		RoomID:    b.RoomID,
		Title:     b.Title,
		Start:     b.Start,
		End:       b.End,
		OutlookID: b.OutlookID,
		Attendees: attendees,
	}
}

type CreateBookingRequest struct {
	RoomID       string    `json:"room_id" binding:"required"`
	Title        string    `json:"title" binding:"required"`
	Start        time.Time `json:"start" binding:"required"`
	End          time.Time `json:"end" binding:"required"`
	Participants []string  `json:"participants" binding:"omitempty,dive,email"`
}

type UpdateBookingRequest struct {
	Title *string    `json:"title"`
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// Validate performs custom validation for UpdateBookingRequest.
func (r *UpdateBookingRequest) Validate() error {
	if r.Start != nil && r.End != nil && !r.Start.Before(*r.End) {
		return booking.ErrInvalidTimeRange
	}
	return nil
}
