// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates callers. Authenticate verifies the bearer token and
// stores the resulting domain.Identity; RequireUser maps that identity to an
// internal user and stores its id under "userID", which handlers, the rate
// limiter, idempotency and the access logs read.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-notes-backend/internal/domain"
	"github.com/tbourn/go-notes-backend/internal/identity"
	"github.com/tbourn/go-notes-backend/internal/services"
)

// Gin context keys set by the auth middleware.
const (
	CtxKeyIdentity = "identity"
	CtxKeyUserID   = "userID"
)

// HeaderUserID carries a raw uid in dev auth mode.
const HeaderUserID = "X-User-ID"

// UserResolver maps a verified identity to an internal user.
type UserResolver interface {
	Resolve(ctx context.Context, id domain.Identity) (*domain.User, error)
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// AllowUserHeader accepts X-User-ID as the token when no Authorization
	// header is sent. Only for dev mode.
	AllowUserHeader bool
}

// Authenticate verifies the caller's token and stores the identity.
// Missing or invalid tokens are rejected with 401.
func Authenticate(v identity.Verifier, opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearer(c.GetHeader("Authorization"))
		if tok == "" && opts.AllowUserHeader {
			tok = strings.TrimSpace(c.GetHeader(HeaderUserID))
		}
		if tok == "" {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		id, err := v.Verify(c.Request.Context(), tok)
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("token rejected")
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		c.Set(CtxKeyIdentity, id)
		c.Next()
	}
}

// RequireUser resolves the authenticated identity to an internal user. It
// must run after Authenticate.
func RequireUser(users UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "missing identity")
			return
		}
		u, err := users.Resolve(c.Request.Context(), id)
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "user not registered")
			return
		case err != nil:
			LoggerFrom(c).Error().Err(err).Str("uid", id.UID).Msg("resolve user")
			abortAuth(c, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		c.Set(CtxKeyUserID, u.ID)
		attachLogger(c, LoggerFrom(c).With().Str("user_id", u.ID).Logger())
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(CtxKeyIdentity)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := v.(domain.Identity)
	return id, ok
}

// UserIDFrom returns the internal user id stored by RequireUser.
func UserIDFrom(c *gin.Context) (string, bool) {
	s := userIDFromCtx(c)
	return s, s != ""
}

func bearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="notes"`)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
