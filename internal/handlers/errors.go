package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/domain"
)

// errorStatus classifies err into an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest, "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest, "invalid_transition"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError answers with {"error": code, "msg": detail}. Internal errors
// are logged and their detail withheld.
func writeError(c *gin.Context, log logrus.FieldLogger, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID(c),
			"path":       c.FullPath(),
		}).Error("unhandled error")
		c.JSON(status, gin.H{"error": code, "msg": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": code, "msg": err.Error()})
}
