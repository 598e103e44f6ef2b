// Turn HTTP handlers.
//
// This file exposes the endpoints addressed by a turn id:
//   - GET  /turns/{id}               (single turn)
//   - GET  /turns/{id}/conversation  (the thread the turn belongs to)
//   - POST /turns/{id}/replies       (linear reply, becomes primary child)
//   - POST /turns/{id}/branches      (alternate continuation)
//   - POST /turns/{id}/generate      (retry reply generation)
//
// Every turn id is authorized against the caller by the service layer;
// foreign turns answer 403, unknown ones 404.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-notes-backend/internal/domain"
)

// ReplyRequest is the JSON payload for replies and branches.
type ReplyRequest struct {
	// Text is the human message. It must be non-empty.
	Text string `json:"text" binding:"required" example:"Can you explain the p-n junction?"`
}

// ConversationResponse is a full thread, root first.
type ConversationResponse struct {
	Turns []domain.Turn `json:"turns"`
}

// GetTurn godoc
// @ID          getTurn
// @Summary     Get a turn
// @Tags        Turns
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Turn ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Turn
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Turn belongs to another user"
// @Failure     404  {object} handlers.ErrorResponse "Turn not found"
// @Router      /turns/{id} [get]
func (h *Handlers) GetTurn(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	id, found := turnParam(c)
	if !found {
		return
	}
	t, err := h.conv.Get(c.Request.Context(), uid, id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get the conversation of a turn
// @Description Returns the turn's ancestors from the root, the turn itself, then its primary descendants.
// @Description Branches are not included; each branch head is a conversation of its own.
// @Tags        Turns
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Turn ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.ConversationResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Turn belongs to another user"
// @Failure     404  {object} handlers.ErrorResponse "Turn not found"
// @Failure     500  {object} handlers.ErrorResponse "Inconsistent tree"
// @Router      /turns/{id}/conversation [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	id, found := turnParam(c)
	if !found {
		return
	}
	turns, err := h.conv.GetFullConversation(c.Request.Context(), uid, id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ConversationResponse{Turns: turns})
}

// Reply godoc
// @ID          replyToTurn
// @Summary     Reply to a turn
// @Description Appends a turn as the parent's primary child and dispatches reply generation.
// @Description A previous primary child is moved to the end of the parent's branches.
// @Tags        Turns
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    string  true  "Parent turn ID (UUID)"  format(uuid)
// @Param       body             body    handlers.ReplyRequest  true  "Reply payload"
// @Success     201  {object} domain.Turn
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Turn belongs to another user"
// @Failure     404  {object} handlers.ErrorResponse "Turn not found"
// @Router      /turns/{id}/replies [post]
func (h *Handlers) Reply(c *gin.Context) {
	h.attach(c, h.conv.Reply)
}

// Branch godoc
// @ID          branchReplyToTurn
// @Summary     Branch off a turn
// @Description Appends an alternate continuation to the parent's branches; its primary line is untouched.
// @Tags        Turns
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    string  true  "Parent turn ID (UUID)"  format(uuid)
// @Param       body             body    handlers.ReplyRequest  true  "Branch payload"
// @Success     201  {object} domain.Turn
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Turn belongs to another user"
// @Failure     404  {object} handlers.ErrorResponse "Turn not found"
// @Router      /turns/{id}/branches [post]
func (h *Handlers) Branch(c *gin.Context) {
	h.attach(c, h.conv.BranchReply)
}

func (h *Handlers) attach(c *gin.Context, op func(ctx context.Context, userID, parentID, text string) (*domain.Turn, error)) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	parentID, found := turnParam(c)
	if !found {
		return
	}
	var req ReplyRequest
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

	t, err := op(c.Request.Context(), uid, parentID, text)
	if err != nil {
		h.failText(c, err)
		return
	}
	h.remember(c, uid, t.ID, http.StatusCreated)
	h.gen.Dispatch(c.Request.Context(), t)
	ok(c, http.StatusCreated, t)
}

// RetryGeneration godoc
// @ID          retryGeneration
// @Summary     Retry reply generation
// @Description Re-runs generation for an owned turn. In sync mode the updated turn is returned,
// @Description otherwise the work is queued and 202 is returned with the current turn.
// @Tags        Turns
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Turn ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Turn
// @Success     202  {object} domain.Turn
// @Failure     403  {object} handlers.ErrorResponse "Turn belongs to another user"
// @Failure     404  {object} handlers.ErrorResponse "Turn not found"
// @Failure     502  {object} handlers.ErrorResponse "Generation failed"
// @Router      /turns/{id}/generate [post]
func (h *Handlers) RetryGeneration(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	id, found := turnParam(c)
	if !found {
		return
	}
	ctx := c.Request.Context()

	if h.sync {
		t, err := h.gen.Regenerate(ctx, uid, id)
		if err != nil {
			failErr(c, err)
			return
		}
		ok(c, http.StatusOK, t)
		return
	}

	t, err := h.conv.Get(ctx, uid, id)
	if err != nil {
		failErr(c, err)
		return
	}
	h.gen.Dispatch(ctx, t)
	ok(c, http.StatusAccepted, t)
}
