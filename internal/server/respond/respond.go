// Package respond maps auth service errors to HTTP responses.
package respond

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tma-auth/internal/identity/service"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// Messages are deliberately generic; clients never learn which check failed.
const (
	MsgAuthenticationFailed = "authentication failed"
	MsgServiceUnavailable   = "service unavailable"
	MsgInvalidRequest       = "invalid request"
	MsgInternal             = "internal error"
)

// Error aborts the request with the status matching err.
func Error(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrAuthenticationFailed), errors.Is(err, service.ErrSessionRevoked):
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{Error: MsgAuthenticationFailed})
	case errors.Is(err, service.ErrStoreUnavailable):
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorBody{Error: MsgServiceUnavailable})
	default:
		log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorBody{Error: MsgInternal})
	}
}

// Unauthorized aborts with the generic 401 body.
func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{Error: MsgAuthenticationFailed})
}

// BadRequest aborts with the generic 400 body.
func BadRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{Error: MsgInvalidRequest})
}
