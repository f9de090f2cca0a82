package http_api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Viktorio135/vpn/internal/models"
)

// errorKinds maps error kinds to a status and a stable code. Order matters:
// the first kind the error wraps wins.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{models.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{models.ErrNotFound, http.StatusNotFound, "not_found"},
	{models.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{models.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{models.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{models.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{models.ErrAmountMismatch, http.StatusPaymentRequired, "amount_mismatch"},
	{models.ErrCapacityExhausted, http.StatusServiceUnavailable, "no_capacity"},
	{models.ErrNodeUnreachable, http.StatusServiceUnavailable, "node_unreachable"},
}

// writeError answers with {error, code}. Internal failures are logged and
// hidden from the caller.
func (s *HTTPServer) writeError(c *gin.Context, err error) {
	for _, kind := range errorKinds {
		if errors.Is(err, kind.err) {
			if kind.status >= http.StatusInternalServerError {
				s.logger.Warnw("Request failed", "path", c.FullPath(), "error", err)
			}
			c.JSON(kind.status, gin.H{"error": err.Error(), "code": kind.code})
			return
		}
	}
	s.logger.Errorw("Request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error(), "code": "invalid_input"})
}
