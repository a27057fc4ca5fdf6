package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/innohassle/room-booking-backend/internal/accounts"
	"github.com/innohassle/room-booking-backend/internal/pkg/response"
)

// AuthRequired is a Gin middleware that validates the Accounts token from
// Authorization: Bearer <token> and resolves the user profile.
func AuthRequired(tokens accounts.TokenValidator, users accounts.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing Authorization header",
			})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid Authorization header format",
			})
			return
		}

		userID, err := tokens.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		user, err := users.GetUser(c.Request.Context(), userID)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if user.InnopolisSSO == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "your account has no connected university profile",
			})
			return
		}

		// Store user info into Gin context for later handlers.
		c.Set(userContextKey, user)

		c.Next()
	}
}

// APIKeyRequired guards service endpoints with a static X-API-Key header.
// An empty configured key rejects everything.
func APIKeyRequired(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || c.GetHeader("X-API-Key") != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid API key",
			})
			return
		}
		c.Next()
	}
}
