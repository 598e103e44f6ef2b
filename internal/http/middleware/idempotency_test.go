package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestContextAccessors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) || userIDFromCtx(c) != "" {
		t.Fatalf("fresh context should carry nothing")
	}

	c.Set(ctxKeyIdemKey, 123)
	c.Set(ctxKeyIdemReplay, "yes")
	c.Set(CtxKeyUserID, 42)
	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) || userIDFromCtx(c) != "" {
		t.Fatalf("wrongly typed values must read as absent")
	}

	c.Set(ctxKeyIdemKey, "k")
	c.Set(ctxKeyIdemReplay, true)
	c.Set(CtxKeyUserID, "u1")
	if k, ok := GetIdempotencyKey(c); !ok || k != "k" || !IsReplay(c) || userIDFromCtx(c) != "u1" {
		t.Fatalf("accessors did not return stored values")
	}
}

func TestIdempotencyScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var got []string
	capture := func(c *gin.Context) { got = append(got, IdempotencyScope(c)); c.Status(http.StatusNoContent) }
	r.POST("/turns/:id/replies", capture)
	r.POST("/turns/:id/branches", capture)
	r.POST("/conversations", capture)

	for _, path := range []string{"/turns/t-1/replies", "/turns/t-1/branches", "/conversations"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}
	want := []string{"POST /turns/:id/replies t-1", "POST /turns/:id/branches t-1", "POST /conversations"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("scopes = %v, want %v", got, want)
		}
	}
}

func TestIdempotencyValidator_KeyValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		opts   IdempotencyOptions
		key    string
		status int
	}{
		{"no header", IdempotencyOptions{}, "", http.StatusNoContent},
		{"default pattern", IdempotencyOptions{}, "7a8d9f4c-1b2a:retry.1", http.StatusNoContent},
		{"space", IdempotencyOptions{}, "has space", http.StatusBadRequest},
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef", http.StatusBadRequest},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(IdempotencyValidator(tc.opts, nil))
			r.POST("/conversations", func(c *gin.Context) {
				k, ok := GetIdempotencyKey(c)
				if ok != (tc.key != "") || k != tc.key {
					t.Fatalf("stashed key = %q,%v", k, ok)
				}
				c.Status(http.StatusNoContent)
			})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/conversations", nil)
			if tc.key != "" {
				req.Header.Set(HeaderIdempotencyKey, tc.key)
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			if tc.status == http.StatusBadRequest {
				var body map[string]string
				_ = json.Unmarshal(w.Body.Bytes(), &body)
				if body["code"] != "bad_idempotency_key" {
					t.Fatalf("body = %v", body)
				}
			}
		})
	}
}

func TestIdempotencyValidator_Lookup(t *testing.T) {
	gin.SetMode(gin.TestMode)

	type call struct{ uid, scope, key string }
	run := func(t *testing.T, uid string, result bool, lookupErr error) (calls []call, replay, bypass bool) {
		t.Helper()
		r := gin.New()
		r.Use(func(c *gin.Context) {
			if uid != "" {
				c.Set(CtxKeyUserID, uid)
			}
			c.Next()
		})
		r.Use(IdempotencyValidator(IdempotencyOptions{}, func(_ context.Context, u, s, k string, now time.Time) (bool, error) {
			if now.IsZero() {
				t.Fatalf("lookup without a timestamp")
			}
			calls = append(calls, call{u, s, k})
			return result, lookupErr
		}))
		r.POST("/turns/:id/branches", func(c *gin.Context) {
			replay, bypass = IsReplay(c), IsRateBypass(c)
			c.Status(http.StatusCreated)
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/turns/abc/branches", nil)
		req.Header.Set(HeaderIdempotencyKey, "k-9")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d", w.Code)
		}
		return
	}

	t.Run("anonymous skips lookup", func(t *testing.T) {
		calls, replay, _ := run(t, "", true, nil)
		if len(calls) != 0 || replay {
			t.Fatalf("calls=%v replay=%v", calls, replay)
		}
	})

	t.Run("miss", func(t *testing.T) {
		calls, replay, bypass := run(t, "u1", false, nil)
		if len(calls) != 1 || calls[0] != (call{"u1", "POST /turns/:id/branches abc", "k-9"}) {
			t.Fatalf("lookup args = %v", calls)
		}
		if replay || bypass {
			t.Fatalf("miss flagged as replay")
		}
	})

	t.Run("hit", func(t *testing.T) {
		base := testutil.ToFloat64(idempotentReplays.WithLabelValues("/turns/:id/branches"))
		_, replay, bypass := run(t, "u9", true, nil)
		if !replay || !bypass {
			t.Fatalf("hit: replay=%v bypass=%v", replay, bypass)
		}
		if got := testutil.ToFloat64(idempotentReplays.WithLabelValues("/turns/:id/branches")); got != base+1 {
			t.Fatalf("replay counter = %v, want %v", got, base+1)
		}
	})

	t.Run("lookup error is a miss", func(t *testing.T) {
		_, replay, _ := run(t, "u1", false, errors.New("db down"))
		if replay {
			t.Fatalf("error must not produce a replay")
		}
	})
}
