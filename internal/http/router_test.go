package httpapi

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-notes-backend/internal/config"
	"github.com/tbourn/go-notes-backend/internal/domain"
	"github.com/tbourn/go-notes-backend/internal/generation"
	"github.com/tbourn/go-notes-backend/internal/http/middleware"
	"github.com/tbourn/go-notes-backend/internal/identity"
	"github.com/tbourn/go-notes-backend/internal/repo"
	"github.com/tbourn/go-notes-backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		LogRedact:      true,
		RateRPS:        100,
		RateBurst:      10,
		CORS:           config.CORSConfig{AllowedOrigins: nil},
		Security:       config.SecurityConfig{EnableHSTS: false},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		IdempotencyTTL: time.Hour,
		Auth:           config.AuthConfig{Mode: "dev", AutoRegister: true},
		Generation:     config.GenerationConfig{Provider: "echo", Timeout: time.Second, Concurrency: 1, Sync: true},
		Tree:           config.TreeConfig{MaxDepth: 100, MaxTextRunes: 1000, TitleMaxLen: 60},
	}
}

func newRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	r := gin.New()
	RegisterRoutes(r, db, services.NewApp(db, generation.Echo{}, cfg), identity.DevVerifier{}, cfg)
	return r, db
}

func serve(r *gin.Engine, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w = serve(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w = serve(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off by default.
	if w = serve(r, http.MethodGet, "/swagger/doc.json", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newRouter(t, cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_ConversationPipeline(t *testing.T) {
	r, _ := newRouter(t, testConfig())
	alice := map[string]string{middleware.HeaderUserID: "alice", middleware.HeaderIdempotencyKey: "k-1"}

	w := serve(r, http.MethodPost, "/api/v1/conversations", `{"text":"What is a diode?"}`, alice)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d (%s)", w.Code, w.Body.String())
	}
	var root domain.Turn
	if err := json.Unmarshal(w.Body.Bytes(), &root); err != nil {
		t.Fatalf("json: %v", err)
	}
	if root.BotText == nil || *root.BotText != "I see that you said What is a diode?" {
		t.Fatalf("sync generation should fill the reply: %+v", root)
	}

	// Same key: served from the idempotency record.
	w = serve(r, http.MethodPost, "/api/v1/conversations", `{"text":"What is a diode?"}`, alice)
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay = %d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}

	w = serve(r, http.MethodPost, "/api/v1/turns/"+root.ID+"/replies", `{"text":"And a LED?"}`, map[string]string{"Authorization": "Bearer alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("reply = %d (%s)", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/v1/turns/"+root.ID+"/conversation", "", map[string]string{
		middleware.HeaderUserID: "alice",
		"Accept-Encoding":       "gzip",
	})
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("conversation = %d encoding=%q", w.Code, w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	raw, _ := io.ReadAll(zr)
	var conv struct {
		Turns []domain.Turn `json:"turns"`
	}
	if err := json.Unmarshal(raw, &conv); err != nil || len(conv.Turns) != 2 {
		t.Fatalf("conversation body: %s err=%v", raw, err)
	}

	// Another user cannot see it.
	w = serve(r, http.MethodGet, "/api/v1/turns/"+root.ID, "", map[string]string{middleware.HeaderUserID: "bob"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign get = %d", w.Code)
	}

	// No credentials at all.
	w = serve(r, http.MethodGet, "/api/v1/conversations", "", nil)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("anonymous list = %d", w.Code)
	}
}

func TestRegisterRoutes_UserHeaderOnlyInDevMode(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Mode = "hmac"
	r, _ := newRouter(t, cfg)

	w := serve(r, http.MethodGet, "/api/v1/conversations", "", map[string]string{middleware.HeaderUserID: "alice"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("X-User-ID must be ignored outside dev mode, got %d", w.Code)
	}
}

func TestRegisterRoutes_AdminAndSwaggerGates(t *testing.T) {
	hdr := map[string]string{middleware.HeaderUserID: "alice"}

	r, _ := newRouter(t, testConfig())
	if w := serve(r, http.MethodPost, "/api/v1/admin/seed", "", hdr); w.Code != http.StatusNotFound {
		t.Fatalf("admin routes must be absent by default, got %d", w.Code)
	}

	cfg := testConfig()
	cfg.AdminEnabled = true
	cfg.SwaggerEnabled = true
	r, _ = newRouter(t, cfg)

	w := serve(r, http.MethodPost, "/api/v1/admin/seed", "", hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("seed = %d (%s)", w.Code, w.Body.String())
	}
	w = serve(r, http.MethodGet, "/api/v1/conversations", "", hdr)
	var list struct {
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Pagination.Total != 3 {
		t.Fatalf("seeded conversations = %d", list.Pagination.Total)
	}
	if w = serve(r, http.MethodPost, "/api/v1/admin/reset", "", hdr); w.Code != http.StatusNoContent {
		t.Fatalf("reset = %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"/conversations"`)) {
		t.Fatalf("swagger doc = %d", w.Code)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	r, db := newRouter(t, testConfig())
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	if w := serve(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with a closed DB, got %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodPost, "/echo", "0123456789AB", nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}
