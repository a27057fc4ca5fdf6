package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/innohassle/room-booking-backend/internal/accounts"
	"github.com/innohassle/room-booking-backend/internal/auth"
	"github.com/innohassle/room-booking-backend/internal/booking"
	"github.com/innohassle/room-booking-backend/internal/pkg/response"
)

const (
	defaultWindowBack  = 7 * 24 * time.Hour
	defaultWindowAhead = 14 * 24 * time.Hour
)

type Handler struct {
	service booking.Service
	users   accounts.Directory
}

func NewHandler(service booking.Service, users accounts.Directory) *Handler {
	return &Handler{service: service, users: users}
}

func (h *Handler) window(req *ListBookingsRequest) (time.Time, time.Time) {
	now := time.Now()
	start := now.Add(-defaultWindowBack)
	end := now.Add(defaultWindowAhead)
	if req.Start != nil {
		start = *req.Start
	}
	if req.End != nil {
		end = *req.End
	}
	return start, end
}

func (h *Handler) List(c *gin.Context) {
	var req ListBookingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters", "details": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(c, err)
		return
	}
	start, end := h.window(&req)

	// Red-access rooms stay hidden from non-staff even on request.
	includeRed := req.IncludeRed && auth.UserRoles(c).IsStaff

	var bookings []booking.Booking
	var err error
	if len(req.RoomIDs) > 0 {
		bookings, err = h.service.BookingsForRooms(c.Request.Context(), req.RoomIDs, start, end)
	} else {
		bookings, err = h.service.BookingsForAllRooms(c.Request.Context(), start, end, includeRed)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	related := booking.AnnotateRelated(bookings, auth.UserEmail(c))
	items := make([]BookingResponse, len(bookings))
	for i := range bookings {
		items[i] = NewBookingResponse(&bookings[i])
		items[i].RelatedToMe = &related[i]
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) My(c *gin.Context) {
	var req ListBookingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters", "details": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(c, err)
		return
	}
	start, end := h.window(&req)

	h.userBookings(c, auth.UserEmail(c), start, end)
}

// ForUser serves another user's bookings; staff only, except for oneself.
func (h *Handler) ForUser(c *gin.Context) {
	userID := c.Param("id")
	caller := auth.CurrentUser(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if caller.ID != userID && !auth.UserRoles(c).IsStaff {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}

	target := caller
	if caller.ID != userID {
		var err error
		target, err = h.users.GetUser(c.Request.Context(), userID)
		if err != nil {
			response.Error(c, err)
			return
		}
	}
	if target.Email() == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "user has no connected university profile"})
		return
	}

	var req ListBookingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters", "details": err.Error()})
		return
	}
	start, end := h.window(&req)

	h.userBookings(c, target.Email(), start, end)
}

func (h *Handler) userBookings(c *gin.Context, email string, start, end time.Time) {
	bookings, err := h.service.UserBookings(c.Request.Context(), email, start, end)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]BookingResponse, len(bookings))
	for i := range bookings {
		items[i] = NewBookingResponse(&bookings[i])
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) Create(c *gin.Context) {
	var body CreateBookingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	email := auth.UserEmail(c)
	if email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	b, err := h.service.Create(c.Request.Context(), booking.CreateRequest{
		RoomID:            body.RoomID,
		Title:             body.Title,
		Start:             body.Start,
		End:               body.End,
		OrganizerEmail:    email,
		ParticipantEmails: body.Participants,
		Roles:             auth.UserRoles(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewBookingResponse(b))
}

func (h *Handler) Get(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	// Only participants may inspect a booking's details.
	email := auth.UserEmail(c)
	participant := false
	for _, a := range b.Attendees {
		if a.Email == email {
			participant = true
			break
		}
	}
	if !participant {
		response.Error(c, booking.ErrNotParticipant)
		return
	}

	c.JSON(http.StatusOK, NewBookingResponse(b))
}

func (h *Handler) Update(c *gin.Context) {
	var body UpdateBookingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := body.Validate(); err != nil {
		response.Error(c, err)
		return
	}

	b, err := h.service.Update(c.Request.Context(), c.Param("id"), booking.UpdateRequest{
		Title:       body.Title,
		Start:       body.Start,
		End:         body.End,
		CallerEmail: auth.UserEmail(c),
		Roles:       auth.UserRoles(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if b == nil {
		// The room has not re-confirmed yet; the client should refetch.
		c.JSON(http.StatusOK, nil)
		return
	}

	c.JSON(http.StatusOK, NewBookingResponse(b))
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Cancel(c.Request.Context(), c.Param("id"), auth.UserEmail(c)); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
