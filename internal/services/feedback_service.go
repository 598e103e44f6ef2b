// Package services – FeedbackService
//
// FeedbackService records a user's rating (-1 or +1) of a generated reply.
// A turn can be rated once per user, only by its owner, and only after its
// bot_text exists.
package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
	"github.com/tbourn/go-notes-backend/internal/repo"
)

// FeedbackService implements the feedback use-case.
type FeedbackService struct {
	DB    *gorm.DB
	Store TurnStore
}

// Rate records value for turnID on behalf of userID.
//
// Errors:
//   - ErrInvalidFeedback when value is not -1 or 1
//   - ErrTurnNotFound / ErrUnauthorized from the ownership check
//   - ErrFeedbackNotAllowed when the turn has no reply yet
//   - ErrDuplicateFeedback when userID already rated the turn
func (s *FeedbackService) Rate(ctx context.Context, userID, turnID string, value int) (*domain.Feedback, error) {
	tr := otel.Tracer("services/FeedbackService")
	ctx, span := tr.Start(ctx, "Rate",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("user.id", userID),
			attribute.Int("feedback.value", value),
		),
	)
	defer span.End()

	if value != -1 && value != 1 {
		return nil, ErrInvalidFeedback
	}

	var fb *domain.Feedback
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.Store.GetTurn(ctx, tx, turnID)
		if err != nil {
			if isNotFound(err) {
				return ErrTurnNotFound
			}
			return err
		}
		if t.UserID != userID {
			return ErrUnauthorized
		}
		if t.BotText == nil {
			return ErrFeedbackNotAllowed
		}

		fb, err = repo.CreateFeedback(ctx, tx, turnID, userID, value)
		if isDuplicate(err) {
			return ErrDuplicateFeedback
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return fb, nil
}
