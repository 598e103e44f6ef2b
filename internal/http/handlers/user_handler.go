// User HTTP handlers.
//
//   - POST /users      (register the caller's identity)
//   - GET  /users/me   (caller's user and verified claims)
//   - GET  /users/{id} (a user; only the caller may read itself)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-notes-backend/internal/domain"
	"github.com/tbourn/go-notes-backend/internal/http/middleware"
)

// MeResponse pairs the internal user with the claims of the current token.
type MeResponse struct {
	User     *domain.User    `json:"user"`
	Identity domain.Identity `json:"identity"`
}

// RegisterUser godoc
// @ID          registerUser
// @Summary     Register the caller
// @Description Creates the internal user for the verified token identity.
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     201  {object} domain.User
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     409  {object} handlers.ErrorResponse "Already registered"
// @Router      /users [post]
func (h *Handlers) RegisterUser(c *gin.Context) {
	id, found := middleware.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized")
		return
	}
	u, err := h.users.Register(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, u)
}

// Me godoc
// @ID          getMe
// @Summary     Current user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.MeResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /users/me [get]
func (h *Handlers) Me(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	u, err := h.users.Get(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	id, _ := middleware.IdentityFrom(c)
	ok(c, http.StatusOK, MeResponse{User: u, Identity: id})
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "User ID (UUID)"  format(uuid)
// @Success     200  {object} domain.User
// @Failure     403  {object} handlers.ErrorResponse "Another user"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	if c.Param("id") != uid {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "cannot read another user")
		return
	}
	u, err := h.users.Get(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}
