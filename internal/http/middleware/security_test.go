package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecurity(opt SecurityOptions, prep func(*http.Request), handler gin.HandlerFunc) http.Header {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	if handler == nil {
		handler = func(c *gin.Context) { c.Status(http.StatusOK) }
	}
	r.GET("/conversations", handler)
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	if prep != nil {
		prep(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders(t *testing.T) {
	t.Run("baseline", func(t *testing.T) {
		h := serveSecurity(SecurityOptions{}, nil, nil)
		for k, v := range map[string]string{
			"X-Content-Type-Options": "nosniff",
			"X-Frame-Options":        "DENY",
			"Referrer-Policy":        "no-referrer",
			"Cache-Control":          "private, no-cache",
		} {
			if got := h.Get(k); got != v {
				t.Fatalf("%s = %q, want %q", k, got, v)
			}
		}
		if h.Get("Permissions-Policy") != "" || h.Get("Strict-Transport-Security") != "" {
			t.Fatalf("optional headers set by default: %v", h)
		}
	})

	t.Run("no-store and policy", func(t *testing.T) {
		h := serveSecurity(SecurityOptions{NoStore: true, EnablePolicy: true}, nil, nil)
		if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" {
			t.Fatalf("no-store headers missing: %v", h)
		}
		if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
			t.Fatalf("policy headers missing: %v", h)
		}
	})

	t.Run("handler overrides cache", func(t *testing.T) {
		h := serveSecurity(SecurityOptions{}, nil, func(c *gin.Context) {
			c.Header("Cache-Control", "no-store")
			c.Status(http.StatusOK)
		})
		if h.Get("Cache-Control") != "no-store" {
			t.Fatalf("Cache-Control = %q", h.Get("Cache-Control"))
		}
	})

	t.Run("hsts only over https", func(t *testing.T) {
		opt := SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}
		if h := serveSecurity(opt, nil, nil); h.Get("Strict-Transport-Security") != "" {
			t.Fatalf("HSTS on plain http")
		}
		h := serveSecurity(opt, func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, nil)
		if got := h.Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains" {
			t.Fatalf("HSTS over TLS = %q", got)
		}
		h = serveSecurity(SecurityOptions{EnableHSTS: true}, func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") }, nil)
		if got := h.Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains" {
			t.Fatalf("HSTS via proxy = %q", got)
		}
	})
}
