package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
)

// ConversationStats returns the number of turns owned by userID and the
// greatest UpdatedAt among them. Any reply, branch or generated answer
// bumps one of the two, so the pair identifies the state of the listing.
// maxUpdatedAt is nil when the user has no turns.
func ConversationStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	scoped := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Turn{}).Where("user_id = ?", userID)
	}

	if err = scoped().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = scoped().Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
