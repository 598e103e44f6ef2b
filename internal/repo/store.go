package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
)

// Store adapts the repository free functions to the store interfaces
// consumed by the services package.
type Store struct{}

// CreateRoot proxies CreateRoot.
func (Store) CreateRoot(ctx context.Context, db *gorm.DB, userID, humanText, title string) (*domain.Turn, error) {
	return CreateRoot(ctx, db, userID, humanText, title)
}

// CreateTurn proxies CreateTurn.
func (Store) CreateTurn(ctx context.Context, db *gorm.DB, t *domain.Turn) error {
	return CreateTurn(ctx, db, t)
}

// GetTurn proxies GetTurn.
func (Store) GetTurn(ctx context.Context, db *gorm.DB, id string) (*domain.Turn, error) {
	return GetTurn(ctx, db, id)
}

// SetBotText proxies SetBotText.
func (Store) SetBotText(ctx context.Context, db *gorm.DB, id, text, model string) error {
	return SetBotText(ctx, db, id, text, model)
}

// SetTitle proxies SetTitle.
func (Store) SetTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	return SetTitle(ctx, db, id, title)
}

// LinkPrimaryChild proxies LinkPrimaryChild.
func (Store) LinkPrimaryChild(ctx context.Context, db *gorm.DB, parentID, childID string) error {
	return LinkPrimaryChild(ctx, db, parentID, childID)
}

// AppendBranchedChild proxies AppendBranchedChild.
func (Store) AppendBranchedChild(ctx context.Context, db *gorm.DB, parentID, childID string) error {
	return AppendBranchedChild(ctx, db, parentID, childID)
}

// ListSeparableConversations proxies ListSeparableConversations.
func (Store) ListSeparableConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Turn, error) {
	return ListSeparableConversations(ctx, db, userID)
}

// CountSeparableConversations proxies CountSeparableConversations.
func (Store) CountSeparableConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return CountSeparableConversations(ctx, db, userID)
}

// ListSeparableConversationsPage proxies ListSeparableConversationsPage.
func (Store) ListSeparableConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Turn, error) {
	return ListSeparableConversationsPage(ctx, db, userID, offset, limit)
}

// GetUser proxies GetUser.
func (Store) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return GetUser(ctx, db, id)
}
