package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/innohassle/room-booking-backend/internal/accounts"
	"github.com/innohassle/room-booking-backend/internal/policy"
)

const userContextKey = "accountsUser"

// CurrentUser returns the authenticated user stored by AuthRequired, or nil.
func CurrentUser(c *gin.Context) *accounts.User {
	if v, ok := c.Get(userContextKey); ok {
		if u, ok := v.(*accounts.User); ok {
			return u
		}
	}
	return nil
}

// UserEmail returns the authenticated user's university email or empty string.
func UserEmail(c *gin.Context) string {
	if u := CurrentUser(c); u != nil {
		return u.Email()
	}
	return ""
}

// UserRoles derives the booking-policy roles of the authenticated user.
func UserRoles(c *gin.Context) policy.Roles {
	u := CurrentUser(c)
	if u == nil || u.InnopolisSSO == nil {
		return policy.Roles{}
	}
	return policy.Roles{
		IsStudent: u.InnopolisSSO.IsStudent,
		IsStaff:   u.InnopolisSSO.IsStaff,
		IsCollege: u.InnopolisSSO.IsCollege,
	}
}
