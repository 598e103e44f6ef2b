// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file is the Turn Store: persistence of conversation
// turns and of their tree links.
//
// Tree links live in two places. parent_id and primary_child_id are columns
// on turns; the ordered branched children of a turn are rows in
// turn_branches (parent_id, child_id, position). Functions returning turns
// hydrate domain.Turn.BranchedChildIDs from that table in append order.
//
// The Store only keeps records. Callers (services.ConversationService) are
// responsible for authorization and for keeping parent_id consistent with
// the parent's links, and should run multi-step mutations in one
// transaction by passing the transaction handle as db.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so callers can use either sentinel.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRoot inserts a new conversation root (no parent, no reply yet).
func CreateRoot(ctx context.Context, db *gorm.DB, userID, humanText, title string) (*domain.Turn, error) {
	t := &domain.Turn{
		UserID:    userID,
		HumanText: humanText,
		Title:     title,
	}
	if err := CreateTurn(ctx, db, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTurn inserts t, assigning an ID and UTC timestamps when unset.
// Links to the parent are not touched; see LinkPrimaryChild and
// AppendBranchedChild.
func CreateTurn(ctx context.Context, db *gorm.DB, t *domain.Turn) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	if t.BranchedChildIDs == nil {
		t.BranchedChildIDs = []string{}
	}
	return db.WithContext(ctx).Create(t).Error
}

// GetTurn fetches a turn by id with its branched children hydrated.
// Returns ErrNotFound if it does not exist.
func GetTurn(ctx context.Context, db *gorm.DB, id string) (*domain.Turn, error) {
	var t domain.Turn
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	ids, err := BranchedChildIDs(ctx, db, t.ID)
	if err != nil {
		return nil, err
	}
	t.BranchedChildIDs = ids
	return &t, nil
}

// SetBotText overwrites the generated reply of a turn and, when model is
// non-empty, records which model produced it. Returns ErrNotFound if the
// turn does not exist.
func SetBotText(ctx context.Context, db *gorm.DB, id, text, model string) error {
	updates := map[string]any{
		"bot_text":   text,
		"updated_at": time.Now().UTC(),
	}
	if model != "" {
		updates["model"] = model
	}
	res := db.WithContext(ctx).Model(&domain.Turn{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetTitle renames a turn. Returns ErrNotFound if the turn does not exist.
func SetTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Turn{}).
		Where("id = ?", id).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// LinkPrimaryChild sets the parent's primary child. The caller guarantees
// that the child's parent_id already equals parentID.
func LinkPrimaryChild(ctx context.Context, db *gorm.DB, parentID, childID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Turn{}).
		Where("id = ?", parentID).
		Updates(map[string]any{
			"primary_child_id": childID,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AppendBranchedChild appends childID to the parent's branched children,
// after any existing ones.
func AppendBranchedChild(ctx context.Context, db *gorm.DB, parentID, childID string) error {
	db = db.WithContext(ctx)
	now := time.Now().UTC()

	res := db.Model(&domain.Turn{}).Where("id = ?", parentID).Update("updated_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	var next struct{ N int }
	if err := db.Model(&domain.TurnBranch{}).
		Select("COALESCE(MAX(position), -1) + 1 AS n").
		Where("parent_id = ?", parentID).
		Scan(&next).Error; err != nil {
		return err
	}

	return db.Create(&domain.TurnBranch{
		ParentID:  parentID,
		ChildID:   childID,
		Position:  next.N,
		CreatedAt: now,
	}).Error
}

// BranchedChildIDs returns the branched children of a turn in append order.
func BranchedChildIDs(ctx context.Context, db *gorm.DB, parentID string) ([]string, error) {
	ids := []string{}
	err := db.WithContext(ctx).
		Model(&domain.TurnBranch{}).
		Where("parent_id = ?", parentID).
		Order("position asc").
		Pluck("child_id", &ids).Error
	return ids, err
}

// ListSeparableConversations returns the turns of userID that anchor a
// listed conversation: roots, plus turns registered as the branched child
// of their parent where that parent is owned by the same user. Newest first.
func ListSeparableConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Turn, error) {
	var out []domain.Turn
	err := db.WithContext(ctx).
		Scopes(separable(userID)).
		Order("turns.created_at desc, turns.id desc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, hydrateBranches(ctx, db, out)
}

// CountSeparableConversations returns the number of separable conversations
// for pagination metadata.
func CountSeparableConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Turn{}).
		Scopes(separable(userID)).
		Count(&total).Error
	return total, err
}

// ListSeparableConversationsPage is the paginated variant of
// ListSeparableConversations.
func ListSeparableConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Turn, error) {
	var out []domain.Turn
	err := db.WithContext(ctx).
		Scopes(separable(userID)).
		Order("turns.created_at desc, turns.id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, hydrateBranches(ctx, db, out)
}

func separable(userID string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("turns.user_id = ?", userID).
			Where(`(turns.parent_id IS NULL OR EXISTS (
				SELECT 1 FROM turn_branches b
				JOIN turns p ON p.id = b.parent_id
				WHERE b.child_id = turns.id AND b.parent_id = turns.parent_id
				  AND p.id <> turns.id AND p.user_id = turns.user_id))`)
	}
}

// hydrateBranches fills BranchedChildIDs for a batch of turns with one query.
func hydrateBranches(ctx context.Context, db *gorm.DB, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	ids := make([]string, len(turns))
	for i := range turns {
		ids[i] = turns[i].ID
		turns[i].BranchedChildIDs = []string{}
	}

	var links []domain.TurnBranch
	if err := db.WithContext(ctx).
		Where("parent_id IN ?", ids).
		Order("parent_id asc, position asc").
		Find(&links).Error; err != nil {
		return err
	}

	byParent := make(map[string][]string, len(links))
	for _, l := range links {
		byParent[l.ParentID] = append(byParent[l.ParentID], l.ChildID)
	}
	for i := range turns {
		if kids, ok := byParent[turns[i].ID]; ok {
			turns[i].BranchedChildIDs = kids
		}
	}
	return nil
}
