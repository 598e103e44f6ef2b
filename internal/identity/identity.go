// Package identity verifies bearer tokens and turns them into a
// domain.Identity. It knows nothing about internal users; mapping an
// identity to a user is done by services.UserService.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-notes-backend/internal/config"
	"github.com/tbourn/go-notes-backend/internal/domain"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid identity token")

// Verifier checks a raw bearer token and returns the identity it carries.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// New builds the Verifier selected by cfg.Mode. The returned close function
// releases background resources (the JWKS refresher) and is never nil.
func New(ctx context.Context, cfg config.AuthConfig) (Verifier, func(), error) {
	switch strings.ToLower(cfg.Mode) {
	case "", "dev":
		return DevVerifier{}, func() {}, nil
	case "hmac":
		return NewHMACVerifier([]byte(cfg.HMACSecret), cfg.Issuer, cfg.Audience), func() {}, nil
	case "jwks":
		v, err := NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience)
		if err != nil {
			return nil, nil, err
		}
		return v, v.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// DevVerifier trusts the token as the uid. For local development only.
type DevVerifier struct{}

// Verify returns the trimmed token as the uid; blank or oversized tokens fail.
func (DevVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	uid := strings.TrimSpace(token)
	if uid == "" || len(uid) > 128 {
		return domain.Identity{}, ErrInvalidToken
	}
	return domain.Identity{UID: uid}, nil
}

// HMACVerifier verifies HS256/384/512 signed JWTs with a shared secret.
type HMACVerifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewHMACVerifier checks iss and aud only when they are non-empty.
func NewHMACVerifier(secret []byte, issuer, audience string) *HMACVerifier {
	return &HMACVerifier{
		secret: secret,
		opts:   parserOptions([]string{"HS256", "HS384", "HS512"}, issuer, audience),
	}
}

// Verify parses and validates token against the shared secret.
func (v *HMACVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	return parse(token, func(*jwt.Token) (any, error) { return v.secret, nil }, v.opts)
}

// JWKSVerifier verifies RS/ES signed JWTs against a remote key set that is
// refreshed in the background.
type JWKSVerifier struct {
	jwks *keyfunc.JWKS
	opts []jwt.ParserOption
}

// NewJWKSVerifier fetches the key set at url and keeps it refreshed until
// ctx ends or Close is called.
func NewJWKSVerifier(ctx context.Context, url, issuer, audience string) (*JWKSVerifier, error) {
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error().Err(err).Str("url", url).Msg("jwks refresh error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load jwks: %w", err)
	}
	return &JWKSVerifier{
		jwks: jwks,
		opts: parserOptions([]string{"RS256", "RS384", "RS512", "ES256", "ES384"}, issuer, audience),
	}, nil
}

// Verify parses and validates token against the current key set.
func (v *JWKSVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	return parse(token, v.jwks.Keyfunc, v.opts)
}

// Close stops the background refresh.
func (v *JWKSVerifier) Close() { v.jwks.EndBackground() }

func parserOptions(methods []string, issuer, audience string) []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return opts
}

func parse(raw string, kf jwt.Keyfunc, opts []jwt.ParserOption) (domain.Identity, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, kf, opts...)
	if err != nil || !tok.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := FromClaims(claims)
	if err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// reserved claims are consumed by FromClaims or by token validation and are
// not copied into Identity.Extra.
var reserved = map[string]struct{}{
	"aud": {}, "auth_time": {}, "exp": {}, "firebase": {}, "iat": {}, "iss": {},
	"sub": {}, "uid": {}, "user_id": {}, "email": {}, "email_verified": {},
	"name": {}, "picture": {},
}

// FromClaims maps verified token claims to an Identity. The uid is taken
// from "uid", then "user_id", then "sub".
func FromClaims(claims map[string]any) (domain.Identity, error) {
	var id domain.Identity
	for _, k := range []string{"uid", "user_id", "sub"} {
		if s, ok := claims[k].(string); ok && strings.TrimSpace(s) != "" {
			id.UID = strings.TrimSpace(s)
			break
		}
	}
	if id.UID == "" {
		return domain.Identity{}, fmt.Errorf("%w: no uid claim", ErrInvalidToken)
	}
	id.Email, _ = claims["email"].(string)
	id.Name, _ = claims["name"].(string)
	id.Picture, _ = claims["picture"].(string)
	id.EmailVerified, _ = claims["email_verified"].(bool)

	for k, v := range claims {
		if _, skip := reserved[k]; skip {
			continue
		}
		if id.Extra == nil {
			id.Extra = map[string]any{}
		}
		id.Extra[k] = v
	}
	return id, nil
}
