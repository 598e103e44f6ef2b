// Conversation HTTP handlers.
//
// This file exposes the endpoints that start and list conversations:
//   - POST /conversations   (create a root turn, dispatch generation)
//   - GET  /conversations   (list separable conversations, paginated, ETag)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous result
// exists for (user, scope, key), the recorded turn is returned with
// `Idempotency-Replayed: true` and nothing is created.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-notes-backend/internal/http/middleware"
	"github.com/tbourn/go-notes-backend/internal/repo"
	"github.com/tbourn/go-notes-backend/internal/services"
	"github.com/tbourn/go-notes-backend/internal/utils"
)

//
// DTOs
//

// CreateConversationRequest is the JSON payload for starting a conversation.
type CreateConversationRequest struct {
	// Text is the first human message. It must be non-empty.
	Text string `json:"text" binding:"required" example:"Can you explain to me the BJT (semiconductor)?"`
	// Title optionally names the conversation; derived from Text when empty.
	Title string `json:"title" example:"Transistors"`
}

// ConversationSummary is one entry of the conversation list.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ListConversationsResponse wraps a page of separable conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

//
// Handlers
//

// CreateConversation godoc
// @ID          createConversation
// @Summary     Start a conversation
// @Description Creates a root turn for the caller and dispatches reply generation.
// @Description Supports idempotency via the Idempotency-Key header (same key → same turn).
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateConversationRequest  true  "First message"
//
// @Success     201  {object}  domain.Turn
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}
	text := sanitizeText(req.Text)
	if text == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	if h.replay(c, uid) {
		return
	}

	t, err := h.conv.Create(c.Request.Context(), uid, text, req.Title)
	if err != nil {
		h.failText(c, err)
		return
	}
	h.remember(c, uid, t.ID, http.StatusCreated)
	h.gen.Dispatch(c.Request.Context(), t)
	ok(c, http.StatusCreated, t)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns the caller's separable conversations (roots and branch heads), newest first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"conversations:u1:3:1700000000\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid, found := currentUser(c)
	if !found {
		return
	}
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"), 20, 100)

	// ETag pre-check (best effort).
	if h.db != nil {
		if count, maxTS, err := repo.ConversationStats(ctx, h.db, uid); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"conversations:%s:%d:%d:p%d:s%d"`, uid, count, ts, p.Page, p.PageSize)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.conv.ListPage(ctx, uid, p.Page, p.PageSize)
	if err != nil {
		failErr(c, err)
		return
	}

	out := make([]ConversationSummary, 0, len(items))
	for _, t := range items {
		out = append(out, ConversationSummary{ID: t.ID, Title: t.Title, CreatedAt: t.CreatedAt})
	}
	totalPages := utils.TotalPages(total, p.PageSize)
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: out,
		Pagination: Pagination{
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    p.Page < totalPages,
		},
	})
}

//
// Idempotency
//

// replay answers the request with the turn recorded for its
// Idempotency-Key, if any. It reports whether a response was written.
func (h *Handlers) replay(c *gin.Context, userID string) bool {
	key, found := middleware.GetIdempotencyKey(c)
	if !found || h.db == nil {
		return false
	}
	ctx := c.Request.Context()
	k := repo.IdemKey{UserID: userID, Scope: middleware.IdempotencyScope(c), Key: key}
	rec, err := repo.LookupIdempotency(ctx, h.db, k, time.Now().UTC())
	if err != nil {
		return false
	}
	t, err := h.conv.Get(ctx, userID, rec.TurnID)
	if err != nil {
		// The recorded turn was wiped (reset); treat the key as fresh.
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, rec.Status, t)
	return true
}

// remember records the turn created for the request's Idempotency-Key.
// Best effort: a concurrent duplicate keeps the first record.
func (h *Handlers) remember(c *gin.Context, userID, turnID string, status int) {
	key, found := middleware.GetIdempotencyKey(c)
	if !found || h.db == nil {
		return
	}
	k := repo.IdemKey{UserID: userID, Scope: middleware.IdempotencyScope(c), Key: key}
	_, err := repo.RememberIdempotency(c.Request.Context(), h.db, k, turnID, status, h.idemTTL, time.Now().UTC())
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		middleware.LoggerFrom(c).Warn().Err(err).Str("turn_id", turnID).Msg("store idempotency key")
	}
}

// failText reports turn creation errors, adding the limit to "too long".
func (h *Handlers) failText(c *gin.Context, err error) {
	if errors.Is(err, services.ErrTooLong) && h.maxText > 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("text too long: max %d runes", h.maxText))
		return
	}
	failErr(c, err)
}
