package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/middleware"
)

// abortWithError attaches err to the context for the request logger and writes the
// JSON error body. Server-side failures do not leak their message.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := apperrors.HTTPStatus(err)
	message := apperrors.Message(err)
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, middleware.ErrorResponse{Error: message, Fields: apperrors.Fields(err)})
}

func abortWithStatus(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, middleware.ErrorResponse{Error: err.Error()})
}
