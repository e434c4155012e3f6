package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-Id"

// Recovery turns handler panics into a 500 error response.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithContext(c.Request.Context()).Error("panic recovered", logger.Fields(
					"path", c.Request.URL.Path,
					"panic", rec,
				))
				RespondWithError(c, errors.Internal(fmt.Errorf("panic: %v", rec)))
			}
		}()
		c.Next()
	}
}

// RequestID reuses the caller's request id or generates one, echoes it and
// stores it as the trace id of the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logger.ContextWithTraceID(c.Request.Context(), id))
		c.Next()
	}
}

// BodyLimit caps the request body at limit bytes.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// RequestLogger logs method, path, status and duration of every request
// except health probes.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == HealthPath {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		fields := logger.Fields(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			logger.FieldStatus, c.Writer.Status(),
			logger.FieldDuration, time.Since(start).Milliseconds(),
		)
		l := log.WithContext(c.Request.Context())
		switch status := c.Writer.Status(); {
		case status >= 500:
			l.Error("request failed", fields)
		case status >= 400:
			l.Warn("request rejected", fields)
		default:
			l.Info("request handled", fields)
		}
	}
}
