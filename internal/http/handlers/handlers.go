// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they validate and normalize input, call the
// application services, and translate results into HTTP responses,
// including conditional (ETag) and idempotent replays. The acting user is
// always the internal id stored by middleware.RequireUser.
package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
	"github.com/tbourn/go-notes-backend/internal/http/middleware"
	"github.com/tbourn/go-notes-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ConversationService is the conversation tree engine consumed by handlers.
type ConversationService interface {
	Create(ctx context.Context, userID, text, title string) (*domain.Turn, error)
	Get(ctx context.Context, userID, turnID string) (*domain.Turn, error)
	GetFullConversation(ctx context.Context, userID, turnID string) ([]domain.Turn, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Turn, int64, error)
	Reply(ctx context.Context, userID, parentID, text string) (*domain.Turn, error)
	BranchReply(ctx context.Context, userID, parentID, text string) (*domain.Turn, error)
}

// GenerationService fills bot_text on turns.
type GenerationService interface {
	// Dispatch starts generation for a freshly committed turn. It never
	// fails the request; in sync mode t is updated in place.
	Dispatch(ctx context.Context, t *domain.Turn)
	// Regenerate runs generation for an owned turn and reports the outcome.
	Regenerate(ctx context.Context, userID, turnID string) (*domain.Turn, error)
}

// FeedbackService records ratings of generated replies.
type FeedbackService interface {
	Rate(ctx context.Context, userID, turnID string, value int) (*domain.Feedback, error)
}

// UserService registers and reads internal users.
type UserService interface {
	Register(ctx context.Context, id domain.Identity) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
}

// AdminService backs the reset/seed helpers.
type AdminService interface {
	Reset(ctx context.Context) error
	Seed(ctx context.Context, uid string) (*services.SeedResult, error)
}

//
// Handler wiring
//

// Deps lists what the handlers need. Admin may be nil when the admin
// routes are not mounted.
type Deps struct {
	Conversations ConversationService
	Generation    GenerationService
	Feedback      FeedbackService
	Users         UserService
	Admin         AdminService

	// DB backs idempotency records and list ETags. Both are skipped when nil.
	DB             *gorm.DB
	IdempotencyTTL time.Duration
	// SyncGeneration makes POST /turns/{id}/generate answer with the
	// generated turn instead of 202.
	SyncGeneration bool
	// MaxTextRunes is reported in "too long" errors.
	MaxTextRunes int
}

// Handlers groups the HTTP endpoints of the notes API.
type Handlers struct {
	conv  ConversationService
	gen   GenerationService
	fb    FeedbackService
	users UserService
	admin AdminService

	db      *gorm.DB
	idemTTL time.Duration
	sync    bool
	maxText int
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		conv:    d.Conversations,
		gen:     d.Generation,
		fb:      d.Feedback,
		users:   d.Users,
		admin:   d.Admin,
		db:      d.DB,
		idemTTL: ttl,
		sync:    d.SyncGeneration,
		maxText: d.MaxTextRunes,
	}
}

//
// Helpers
//

// currentUser returns the internal user id set by middleware.RequireUser.
// Routes are only mounted behind that middleware, so a missing id is a
// wiring bug and answered with 401.
func currentUser(c *gin.Context) (string, bool) {
	uid, ok := middleware.UserIDFrom(c)
	if !ok {
		c.Header("WWW-Authenticate", `Bearer realm="notes"`)
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized")
	}
	return uid, ok
}

// turnParam reads and validates the :id path parameter.
func turnParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "turn id must be a UUID")
		return "", false
	}
	return id, true
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeText normalizes user text: CRLF/CR become LF, runs of 3+ LFs
// collapse to two, and surrounding whitespace is trimmed.
func sanitizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
