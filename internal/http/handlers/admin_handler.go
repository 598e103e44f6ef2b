// Admin HTTP handlers, mounted only when ADMIN_ENABLED is set.
//
//   - POST /admin/reset  (delete all conversation data, keep users)
//   - POST /admin/seed   (create the demo conversations)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-notes-backend/internal/http/middleware"
)

// SeedRequest optionally names the external uid that owns the demo data.
// The caller's uid is used when empty.
type SeedRequest struct {
	UID string `json:"uid" example:"seed-user"`
}

// Reset godoc
// @ID          adminReset
// @Summary     Delete all conversation data
// @Tags        Admin
// @Security    BearerAuth
// @Success     204  {string} string "No Content"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/reset [post]
func (h *Handlers) Reset(c *gin.Context) {
	if err := h.admin.Reset(c.Request.Context()); err != nil {
		failErr(c, err)
		return
	}
	middleware.LoggerFrom(c).Warn().Msg("conversation data reset")
	noContent(c)
}

// Seed godoc
// @ID          adminSeed
// @Summary     Create demo conversations
// @Description Builds a linear thread and a thread with one branch for the given uid.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.SeedRequest  false  "Owner uid"
// @Success     201  {object} services.SeedResult
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/seed [post]
func (h *Handlers) Seed(c *gin.Context) {
	var req SeedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	if req.UID == "" {
		if id, found := middleware.IdentityFrom(c); found {
			req.UID = id.UID
		}
	}
	res, err := h.admin.Seed(c.Request.Context(), req.UID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}
