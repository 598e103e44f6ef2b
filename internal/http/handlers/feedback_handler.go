// Feedback HTTP handlers.
//
// This file exposes the endpoint for rating a generated reply:
//   - POST /turns/{id}/feedback  (create feedback)
//
// Values are constrained to {-1, +1}. A turn can be rated once by its owner
// and only after its reply exists.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LeaveFeedbackRequest is the JSON payload for rating a turn's reply.
type LeaveFeedbackRequest struct {
	// Value is the feedback signal: +1 (positive) or -1 (negative).
	Value int `json:"value" binding:"required,oneof=-1 1" example:"1"`
}

// LeaveFeedback godoc
// @ID          leaveFeedback
// @Summary     Rate a generated reply
// @Description Records positive (+1) or negative (-1) feedback for the turn's bot reply.
// @Tags        Feedback
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Turn ID (UUID)"  format(uuid) example(fa4dfbe0-c3bf-47bd-b32f-d7de221cf43b)
// @Param       body  body  handlers.LeaveFeedbackRequest true "Feedback payload"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Invalid payload"
// @Failure     403  {object} handlers.ErrorResponse "Turn belongs to another user"
// @Failure     404  {object} handlers.ErrorResponse "Turn not found"
// @Failure     409  {object} handlers.ErrorResponse "Already rated or no reply yet"
// @Failure     500  {object} handlers.ErrorResponse "Internal server error"
// @Router      /turns/{id}/feedback [post]
func (h *Handlers) LeaveFeedback(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	id, found := turnParam(c)
	if !found {
		return
	}
	var req LeaveFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "value must be -1 or 1")
		return
	}

	if _, err := h.fb.Rate(c.Request.Context(), uid, id, req.Value); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
