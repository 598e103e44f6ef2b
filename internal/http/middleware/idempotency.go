package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey lets clients retry turn-creating POSTs safely: a
// repeated key within the same scope returns the turn created the first time.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~:-]+$`)

// IdempotencyOptions bounds accepted keys. Zero values mean 200 bytes and
// defaultKeyPattern.
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether an unexpired record exists for the
// user, scope and key. TTL is the store's business.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemKey)
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the lookup found a stored result for the key.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyScope binds a key to the operation it was sent with: the
// method and registered route, plus the :id parameter when present. A reply
// and a branch to the same parent therefore never share a record.
func IdempotencyScope(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	scope := c.Request.Method + " " + route
	if id := c.Param("id"); id != "" {
		scope += " " + id
	}
	return scope
}

// IdempotencyValidator checks the Idempotency-Key header and stashes it for
// handlers. It must run after RequireUser: keys are per user, so the lookup
// only runs once a user id is known. A hit marks the request as a replay and
// exempts it from rate limiting; serving the stored turn is left to the
// handler. Lookup errors are treated as a miss.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pattern := opts.Pattern
	if pattern == nil {
		pattern = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		uid := userIDFromCtx(c)
		if lookup == nil || uid == "" {
			c.Next()
			return
		}
		hit, err := lookup(c.Request.Context(), uid, IdempotencyScope(c), key, time.Now().UTC())
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup")
		}
		if hit {
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
			idempotentReplays.WithLabelValues(routeLabel(c)).Inc()
		}
		c.Next()
	}
}

// userIDFromCtx is the internal user id set by RequireUser, or "".
func userIDFromCtx(c *gin.Context) string {
	v, _ := c.Get(CtxKeyUserID)
	s, _ := v.(string)
	return s
}
