package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/auth"
	"github.com/imrishuroy/orderflow/internal/domain"
)

const (
	headerRequestID = "X-Request-Id"
	ctxRequestID    = "request_id"
	ctxIdentity     = "identity"
)

// requestLogger tags each request with an id and logs its outcome.
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)

		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
			return
		}
		entry.Info("request handled")
	}
}

// authenticate resolves the caller through p and stores the identity on
// the context; requests without a valid identity get 401.
func authenticate(p auth.Provider, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := p.Identify(c.Request)
		if err != nil {
			writeError(c, log, err)
			c.Abort()
			return
		}
		c.Set(ctxIdentity, id)
		c.Next()
	}
}

// noProvider rejects every request; routes registered without an identity
// provider are closed.
type noProvider struct{}

func (noProvider) Identify(*http.Request) (auth.Identity, error) {
	return auth.Identity{}, fmt.Errorf("%w: no identity provider configured", domain.ErrUnauthenticated)
}

func actor(c *gin.Context) auth.Identity {
	id, _ := c.Get(ctxIdentity)
	ident, _ := id.(auth.Identity)
	return ident
}

func requestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
