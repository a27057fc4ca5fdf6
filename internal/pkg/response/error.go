package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/innohassle/room-booking-backend/internal/pkg/apperror"
)

// ErrorResponse defines the JSON structure for error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Error sends a JSON error response.
// It checks if the error is an AppError to determine the status code.
// If it's not an AppError, it defaults to 500 Internal Server Error.
func Error(c *gin.Context, err error) {
	c.JSON(statusAndBody(err))
}

// AbortWithError sends the error response and aborts the handler chain.
// For use from middleware.
func AbortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusAndBody(err))
}

func statusAndBody(err error) (int, ErrorResponse) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Code, ErrorResponse{Error: appErr.Message}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}
}
