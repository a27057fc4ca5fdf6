package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/innohassle/room-booking-backend/internal/auth"
	"github.com/innohassle/room-booking-backend/internal/pkg/response"
	"github.com/innohassle/room-booking-backend/internal/room"
)

type Handler struct {
	registry *room.Registry
}

func NewHandler(registry *room.Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) List(c *gin.Context) {
	email := auth.UserEmail(c)

	// Red-access rooms are listed only for users granted access to them.
	grants := h.registry.GrantsForUser(email)
	items := []RoomResponse{}
	for _, r := range h.registry.All(true) {
		_, hasAccess := grants[r.ID]
		if r.AccessLevel == room.AccessRed && !hasAccess && !auth.UserRoles(c).IsStaff {
			continue
		}
		items = append(items, NewRoomResponse(&r, hasAccess))
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c *gin.Context) {
	r := h.registry.ByID(c.Param("id"))
	if r == nil {
		response.Error(c, room.ErrNotFound)
		return
	}
	hasAccess := h.registry.UserHasAccess(auth.UserEmail(c), r.ID)
	c.JSON(http.StatusOK, NewRoomResponse(r, hasAccess))
}
