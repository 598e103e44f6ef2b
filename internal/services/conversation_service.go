// Package services – ConversationService
//
// ConversationService is the conversation tree engine. It owns every
// multi-turn algorithm over the Turn Store: reconstructing the thread a turn
// belongs to, listing separable conversations, and attaching linear replies
// and branches. All operations taking a turn id authorize it against the
// acting user before any traversal or mutation.
//
// Walks are iterative and bounded by MaxDepth plus a visited set; a walk that
// runs out of budget, revisits a turn or follows a dangling or foreign link
// fails with ErrInternalConsistency.
package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
)

// TurnStore is the persistence contract required by ConversationService.
// Every method takes the handle to run on so that callers can pass a
// transaction.
type TurnStore interface {
	CreateRoot(ctx context.Context, db *gorm.DB, userID, humanText, title string) (*domain.Turn, error)
	CreateTurn(ctx context.Context, db *gorm.DB, t *domain.Turn) error
	GetTurn(ctx context.Context, db *gorm.DB, id string) (*domain.Turn, error)
	SetBotText(ctx context.Context, db *gorm.DB, id, text, model string) error
	SetTitle(ctx context.Context, db *gorm.DB, id, title string) error
	LinkPrimaryChild(ctx context.Context, db *gorm.DB, parentID, childID string) error
	AppendBranchedChild(ctx context.Context, db *gorm.DB, parentID, childID string) error
	ListSeparableConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Turn, error)
	CountSeparableConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListSeparableConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Turn, error)
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)
}

const (
	defaultMaxDepth     = 10000
	defaultTitleMaxLen  = 60
	defaultBranchSuffix = " (branch)"
	defaultRootTitle    = "New conversation"
)

// ConversationService implements the conversation tree engine.
type ConversationService struct {
	DB    *gorm.DB
	Store TurnStore

	// MaxDepth bounds every upward or downward walk.
	MaxDepth int
	// MaxTextRunes caps human_text; <= 0 disables the check.
	MaxTextRunes int

	TitleMaxLen  int
	TitleLocale  language.Tag
	BranchSuffix string
}

// NewConversationService constructs a ConversationService with defaults.
func NewConversationService(db *gorm.DB, store TurnStore) *ConversationService {
	return &ConversationService{
		DB:           db,
		Store:        store,
		MaxDepth:     defaultMaxDepth,
		TitleMaxLen:  defaultTitleMaxLen,
		TitleLocale:  language.English,
		BranchSuffix: defaultBranchSuffix,
	}
}

// Create starts a new conversation for userID. When title is blank one is
// derived from the text.
func (s *ConversationService) Create(ctx context.Context, userID, text, title string) (*domain.Turn, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	text, err := s.validateText(text)
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.GetUser(ctx, s.DB, userID); err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	title = normalizeTitle(title)
	if title == "" {
		title = titleFromText(text, s.TitleLocale)
	}
	if title == "" {
		title = defaultRootTitle
	}
	return s.Store.CreateRoot(ctx, s.DB, userID, text, s.clip(title))
}

// Get returns a single turn owned by userID.
func (s *ConversationService) Get(ctx context.Context, userID, turnID string) (*domain.Turn, error) {
	return s.authorize(ctx, s.DB, turnID, userID)
}

// GetFullConversation returns the thread turnID belongs to: its ancestors
// from the root, the turn itself, then its primary descendants.
func (s *ConversationService) GetFullConversation(ctx context.Context, userID, turnID string) ([]domain.Turn, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "GetFullConversation",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	start, err := s.authorize(ctx, s.DB, turnID, userID)
	if err != nil {
		return nil, err
	}

	w := s.newWalk(start)
	up, err := w.ancestors(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	down, err := w.primaryLine(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Turn, 0, len(up)+1+len(down))
	out = append(out, up...)
	out = append(out, *start)
	out = append(out, down...)
	span.SetAttributes(attribute.Int("conversation.length", len(out)))
	return out, nil
}

// History returns the ancestors of t, root first, excluding t itself. It is
// the context handed to the generation adapter.
func (s *ConversationService) History(ctx context.Context, t *domain.Turn) ([]domain.Turn, error) {
	return s.newWalk(t).ancestors(ctx, s.DB)
}

// ListSeparable returns every separable conversation of userID, newest first.
func (s *ConversationService) ListSeparable(ctx context.Context, userID string) ([]domain.Turn, error) {
	return s.Store.ListSeparableConversations(ctx, s.DB, userID)
}

// ListPage returns a page of separable conversations and the total count.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Turn, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Store.CountSeparableConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Turn{}, 0, nil
	}
	items, err := s.Store.ListSeparableConversationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Reply attaches a linear reply to parentID and makes it the parent's
// primary child. If the parent already had a primary child, that turn is
// moved to the end of the parent's branched children first, so it stays
// reachable and becomes a separable conversation of its own.
func (s *ConversationService) Reply(ctx context.Context, userID, parentID, text string) (*domain.Turn, error) {
	return s.attach(ctx, "Reply", userID, parentID, text, false)
}

// BranchReply attaches an alternate continuation to parentID. The parent's
// primary line is left untouched.
func (s *ConversationService) BranchReply(ctx context.Context, userID, parentID, text string) (*domain.Turn, error) {
	return s.attach(ctx, "BranchReply", userID, parentID, text, true)
}

func (s *ConversationService) attach(ctx context.Context, op, userID, parentID, text string, branch bool) (*domain.Turn, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("turn.parent_id", parentID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	text, err := s.validateText(text)
	if err != nil {
		return nil, err
	}

	var child *domain.Turn
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		parent, err := s.authorize(ctx, tx, parentID, userID)
		if err != nil {
			return err
		}

		title := parent.Title
		if branch {
			title = s.branchTitle(parent.Title)
		}
		c := &domain.Turn{
			UserID:    userID,
			HumanText: text,
			Title:     title,
			ParentID:  &parent.ID,
		}
		if err := s.Store.CreateTurn(ctx, tx, c); err != nil {
			return err
		}

		if branch {
			if err := s.Store.AppendBranchedChild(ctx, tx, parent.ID, c.ID); err != nil {
				return err
			}
		} else {
			if prev := parent.PrimaryChildID; prev != nil && *prev != c.ID {
				if err := s.Store.AppendBranchedChild(ctx, tx, parent.ID, *prev); err != nil {
					return err
				}
				// The demoted turn now heads its own listed conversation.
				if err := s.Store.SetTitle(ctx, tx, *prev, s.branchTitle(parent.Title)); err != nil {
					return err
				}
				span.SetAttributes(attribute.String("turn.demoted_id", *prev))
			}
			if err := s.Store.LinkPrimaryChild(ctx, tx, parent.ID, c.ID); err != nil {
				return err
			}
		}
		child = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("turn.id", child.ID))
	return child, nil
}

// authorize fetches turnID on db and checks ownership.
func (s *ConversationService) authorize(ctx context.Context, db *gorm.DB, turnID, userID string) (*domain.Turn, error) {
	t, err := s.Store.GetTurn(ctx, db, turnID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTurnNotFound
		}
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrUnauthorized
	}
	return t, nil
}

func (s *ConversationService) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(text) > s.MaxTextRunes {
		return "", ErrTooLong
	}
	return text, nil
}

func (s *ConversationService) branchTitle(parentTitle string) string {
	suffix := s.BranchSuffix
	if suffix == "" {
		suffix = defaultBranchSuffix
	}
	base := parentTitle
	if max := s.titleMax(); max > 0 {
		room := max - utf8.RuneCountInString(suffix)
		if room > 0 && utf8.RuneCountInString(base) > room {
			base = strings.TrimSpace(string([]rune(base)[:room]))
		}
	}
	return base + suffix
}

func (s *ConversationService) clip(title string) string {
	if max := s.titleMax(); utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

func (s *ConversationService) titleMax() int {
	if s.TitleMaxLen > 0 {
		return s.TitleMaxLen
	}
	return defaultTitleMaxLen
}

func (s *ConversationService) newWalk(start *domain.Turn) *walk {
	limit := s.MaxDepth
	if limit <= 0 {
		limit = defaultMaxDepth
	}
	return &walk{
		store: s.Store,
		start: start,
		limit: limit,
		seen:  map[string]struct{}{start.ID: {}},
	}
}

// walk is one bounded traversal from start. The visited set is shared by the
// upward and downward legs so a turn can appear at most once in a thread.
type walk struct {
	store TurnStore
	start *domain.Turn
	limit int
	seen  map[string]struct{}
}

// ancestors follows parent_id to the root and returns root..parent.
func (w *walk) ancestors(ctx context.Context, db *gorm.DB) ([]domain.Turn, error) {
	var up []domain.Turn
	cur := w.start
	for steps := 0; cur.ParentID != nil; steps++ {
		if steps >= w.limit {
			return nil, fmt.Errorf("%w: upward walk from %s exceeded %d steps", ErrInternalConsistency, w.start.ID, w.limit)
		}
		next, err := w.visit(ctx, db, *cur.ParentID, "parent")
		if err != nil {
			return nil, err
		}
		up = append(up, *next)
		cur = next
	}
	for i, j := 0, len(up)-1; i < j; i, j = i+1, j-1 {
		up[i], up[j] = up[j], up[i]
	}
	return up, nil
}

// primaryLine follows primary_child_id from start and returns the
// descendants in order.
func (w *walk) primaryLine(ctx context.Context, db *gorm.DB) ([]domain.Turn, error) {
	var down []domain.Turn
	cur := w.start
	for steps := 0; cur.PrimaryChildID != nil; steps++ {
		if steps >= w.limit {
			return nil, fmt.Errorf("%w: downward walk from %s exceeded %d steps", ErrInternalConsistency, w.start.ID, w.limit)
		}
		next, err := w.visit(ctx, db, *cur.PrimaryChildID, "primary child")
		if err != nil {
			return nil, err
		}
		down = append(down, *next)
		cur = next
	}
	return down, nil
}

func (w *walk) visit(ctx context.Context, db *gorm.DB, id, link string) (*domain.Turn, error) {
	if _, dup := w.seen[id]; dup {
		return nil, fmt.Errorf("%w: cycle through %s %s", ErrInternalConsistency, link, id)
	}
	t, err := w.store.GetTurn(ctx, db, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: dangling %s %s", ErrInternalConsistency, link, id)
		}
		return nil, err
	}
	if t.UserID != w.start.UserID {
		return nil, fmt.Errorf("%w: %s %s belongs to another user", ErrInternalConsistency, link, id)
	}
	w.seen[id] = struct{}{}
	return t, nil
}
