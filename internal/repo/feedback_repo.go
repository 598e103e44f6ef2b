// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Feedback model.
//
// Duplicate feedback (same turn_id,user_id) is rejected by the unique index
// and surfaced as ErrDuplicate so the service layer can map it to
// ErrDuplicateFeedback.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
)

// CreateFeedback inserts a feedback row for the given turn and user.
// Value must be -1 or 1; the schema CHECK rejects anything else.
func CreateFeedback(ctx context.Context, db *gorm.DB, turnID, userID string, value int) (*domain.Feedback, error) {
	now := time.Now().UTC()
	fb := &domain.Feedback{
		ID:        uuid.NewString(),
		TurnID:    turnID,
		UserID:    userID,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(fb).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return fb, nil
}

// GetFeedback returns the feedback userID left on turnID, if any.
func GetFeedback(ctx context.Context, db *gorm.DB, turnID, userID string) (*domain.Feedback, error) {
	var fb domain.Feedback
	err := db.WithContext(ctx).
		Where("turn_id = ? AND user_id = ?", turnID, userID).
		First(&fb).Error
	if err != nil {
		return nil, err
	}
	return &fb, nil
}
