// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes the symbolic error codes returned in ErrorResponse
// and the translation of service errors into HTTP statuses. Codes give
// clients a stable, machine-readable taxonomy that supplements the
// human-readable message.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes (bad_request, unauthorized, forbidden, conflict) mirror
//     HTTP status semantics.
//   - Domain codes (generation_failed, tree_inconsistent) are reserved for
//     failures that status alone cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "forbidden",
//	  "message": "turn belongs to another user"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-notes-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeGenerationFailed = "generation_failed"
	ErrCodeInconsistentTree = "tree_inconsistent"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// failErr maps a service error onto the error envelope. Unknown errors are
// reported as 500 without leaking their text.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTurnNotFound),
		errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrEmptyText),
		errors.Is(err, services.ErrTooLong),
		errors.Is(err, services.ErrInvalidFeedback),
		errors.Is(err, services.ErrEmptyUID):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrDuplicateFeedback),
		errors.Is(err, services.ErrFeedbackNotAllowed),
		errors.Is(err, services.ErrUserExists):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrGenerationFailed):
		fail(c, http.StatusBadGateway, ErrCodeGenerationFailed, "reply generation failed")
	case errors.Is(err, services.ErrInternalConsistency):
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInconsistentTree, "conversation tree is inconsistent")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
