package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
	"github.com/tbourn/go-notes-backend/internal/repo"
)

// failingStore fails the n-th CreateTurn call.
type failingStore struct {
	repo.Store
	n     int
	calls int
}

var errStoreDown = errors.New("store down")

func (f *failingStore) CreateTurn(ctx context.Context, db *gorm.DB, t *domain.Turn) error {
	f.calls++
	if f.calls == f.n {
		return errStoreDown
	}
	return f.Store.CreateTurn(ctx, db, t)
}

func countTurns(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Turn{}).Count(&n).Error; err != nil {
		t.Fatalf("count turns: %v", err)
	}
	return n
}

func TestSeeder_RejectsOversizedTextBeforeWriting(t *testing.T) {
	conv, db := newConv(t)
	conv.MaxTextRunes = 50
	s := &Seeder{Users: &UserService{DB: db}, Conversations: conv}

	if _, err := s.Seed(context.Background(), "alice"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("want ErrTooLong, got %v", err)
	}
	if n := countTurns(t, db); n != 0 {
		t.Fatalf("no turn may be written, found %d", n)
	}
	if _, err := repo.GetUserByUID(context.Background(), db, "alice"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("no user may be registered, got %v", err)
	}
}

func TestSeeder_RollsBackOnMidTreeFailure(t *testing.T) {
	db := newTestDB(t)
	// The third reply/branch insert fails, after the root and two children exist.
	conv := NewConversationService(db, &failingStore{n: 3})
	s := &Seeder{Users: &UserService{DB: db}, Conversations: conv}

	if _, err := s.Seed(context.Background(), "alice"); !errors.Is(err, errStoreDown) {
		t.Fatalf("want the store error, got %v", err)
	}
	if n := countTurns(t, db); n != 0 {
		t.Fatalf("a failed seed must leave no turns, found %d", n)
	}
	var links int64
	db.Model(&domain.TurnBranch{}).Count(&links)
	if links != 0 {
		t.Fatalf("a failed seed must leave no branch links, found %d", links)
	}
}
