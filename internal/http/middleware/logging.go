// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Request lifecycle helpers live here: RequestID assigns the correlation id,
// Logger and RedactingLogger attach a request-scoped zerolog.Logger (Gin key
// "logger" and the request context, so services can use zerolog.Ctx) and
// write one access line per request, and Recovery turns panics into a JSON
// 500 carrying the same id.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	maxQueryLogLength = 2048
)

// Inbound ids are reused only when they look like an id; anything else
// (too long, spaces, control chars) gets a fresh UUID.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestID reuses a well-formed X-Request-ID or generates one, and echoes
// it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	s, _ := v.(string)
	return s
}

// Logger attaches the request logger and writes the access log. Query
// strings are logged as-is (capped); use RedactingLogger when they or the
// headers may carry personal data.
func Logger() gin.HandlerFunc {
	return accessLog(func(c *gin.Context, ev *zerolog.Event) {
		ev.Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Str("user_agent", c.Request.UserAgent()).
			Str("remote_ip", c.ClientIP())
	})
}

// accessLog is the shared body of Logger and RedactingLogger. decorate adds
// the request details each variant is willing to log.
func accessLog(decorate func(*gin.Context, *zerolog.Event)) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		attachLogger(c, log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("route", routeLabel(c)).
			Logger())

		c.Next()

		status := c.Writer.Status()
		// LoggerFrom picks up fields added downstream (user_id from RequireUser).
		lg := LoggerFrom(c)
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			ev = lg.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= http.StatusBadRequest:
			ev = lg.Warn()
		default:
			ev = lg.Info()
		}
		decorate(c, ev)
		ev.Int("status", status).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Recovery converts a panic into a JSON 500 (when nothing was written yet)
// and logs the stack with the request logger.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// none was attached. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.Logger
	return &l
}

// attachLogger makes l the request logger for handlers (Gin context) and
// services (request context).
func attachLogger(c *gin.Context, l zerolog.Logger) {
	c.Set(loggerKey, &l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

// truncate caps s at max bytes. max <= 0 disables the cap.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
