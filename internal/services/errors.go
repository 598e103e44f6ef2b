// Package services defines the business logic for conversation trees,
// users, reply generation and feedback. This file centralizes service-level
// error values so that they can be consistently returned by service methods
// and checked by callers with errors.Is.
//
// Translation into HTTP status codes is done by the handlers package.
package services

import "errors"

// Lookup and ownership errors.
var (
	// ErrUserNotFound indicates that the referenced internal user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when registering an identity that already
	// has an internal user.
	ErrUserExists = errors.New("user already registered")

	// ErrTurnNotFound indicates that the referenced turn does not exist.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrUnauthorized is returned when the acting user does not own the
	// referenced turn. It is reported distinctly from ErrTurnNotFound.
	ErrUnauthorized = errors.New("turn belongs to another user")
)

// Tree integrity errors.
var (
	// ErrInternalConsistency signals a broken tree: a walk exceeded its depth
	// bound, revisited a turn, or followed a link to a missing or foreign
	// turn. It is a bug signal and is never swallowed.
	ErrInternalConsistency = errors.New("conversation tree is inconsistent")
)

// Input errors.
var (
	// ErrEmptyText is returned when a turn is created with blank human text.
	ErrEmptyText = errors.New("text is empty")

	// ErrTooLong is returned when human text exceeds the configured limit.
	ErrTooLong = errors.New("text too long")
)

// Generation errors.
var (
	// ErrGenerationFailed wraps any failure of the generation adapter. The
	// turn keeps bot_text = null; callers of turn creation never see it.
	ErrGenerationFailed = errors.New("reply generation failed")
)

// Feedback errors.
var (
	// ErrInvalidFeedback is returned when a feedback value is not -1 or 1.
	ErrInvalidFeedback = errors.New("feedback value must be -1 or 1")

	// ErrFeedbackNotAllowed is returned when rating a turn whose reply has
	// not been generated yet.
	ErrFeedbackNotAllowed = errors.New("turn has no generated reply to rate")

	// ErrDuplicateFeedback is returned when the user already rated the turn.
	ErrDuplicateFeedback = errors.New("feedback already exists")
)
