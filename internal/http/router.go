// Package httpapi builds the Gin engine: the global middleware chain, the
// versioned API group and the operational routes (health, metrics, docs).
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/docs"
	"github.com/tbourn/go-notes-backend/internal/config"
	"github.com/tbourn/go-notes-backend/internal/http/handlers"
	"github.com/tbourn/go-notes-backend/internal/http/middleware"
	"github.com/tbourn/go-notes-backend/internal/identity"
	"github.com/tbourn/go-notes-backend/internal/repo"
	"github.com/tbourn/go-notes-backend/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger (RedactingLogger when LOG_REDACT is on)
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip
//  7. Metrics
//  8. CORS and Security headers
//
// Inside the API group:
//  9. Authenticate: bearer token → identity
//  10. RequireUser: identity → internal user id
//  11. Idempotency validator (before rate limiting to allow bypass on replay)
//  12. Rate limiter (per user, bypass on replay)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, app *services.App, verifier identity.Verifier, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging, with redaction unless disabled
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{middleware.HeaderUserID},
		}))
	} else {
		r.Use(middleware.Logger())
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Gzip responses (not /metrics)
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", health(db))

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var admin handlers.AdminService
	if cfg.AdminEnabled {
		admin = app.Seeder
	}
	h := handlers.New(handlers.Deps{
		Conversations:  app.Conversations,
		Generation:     app.Generation,
		Feedback:       app.Feedback,
		Users:          app.Users,
		Admin:          admin,
		DB:             db,
		IdempotencyTTL: cfg.IdempotencyTTL,
		SyncGeneration: cfg.Generation.Sync,
		MaxTextRunes:   cfg.Tree.MaxTextRunes,
	})

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Authenticate(verifier, middleware.AuthOptions{
		AllowUserHeader: cfg.Auth.Mode == "dev" || cfg.Auth.Mode == "",
	}))

	// Registration only needs a verified identity.
	api.POST("/users", rl.Handler(), h.RegisterUser)

	authed := api.Group("")
	authed.Use(
		middleware.RequireUser(app.Users),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
				_, err := repo.LookupIdempotency(ctx, db, repo.IdemKey{UserID: userID, Scope: scope, Key: key}, now)
				if errors.Is(err, repo.ErrNotFound) {
					return false, nil
				}
				return err == nil, err
			},
		),
		rl.Handler(),
	)
	{
		// Conversations
		authed.POST("/conversations", h.CreateConversation)
		authed.GET("/conversations", h.ListConversations)

		// Turns
		authed.GET("/turns/:id", h.GetTurn)
		authed.GET("/turns/:id/conversation", h.GetConversation)
		authed.POST("/turns/:id/replies", h.Reply)
		authed.POST("/turns/:id/branches", h.Branch)
		authed.POST("/turns/:id/generate", h.RetryGeneration)
		authed.POST("/turns/:id/feedback", h.LeaveFeedback)

		// Users
		authed.GET("/users/me", h.Me)
		authed.GET("/users/:id", h.GetUser)

		// Admin
		if admin != nil {
			authed.POST("/admin/reset", h.Reset)
			authed.POST("/admin/seed", h.Seed)
		}
	}
}

// health reports liveness plus database reachability.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
