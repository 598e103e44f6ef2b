package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-notes-backend/internal/repo"
)

func TestFeedback_Rate(t *testing.T) {
	conv, db := newConv(t)
	ctx := context.Background()
	a := mustUser(t, db, "alice")
	b := mustUser(t, db, "bob")
	svc := &FeedbackService{DB: db, Store: repo.Store{}}

	root, _ := conv.Create(ctx, a, "hello", "")

	if _, err := svc.Rate(ctx, a, root.ID, 0); !errors.Is(err, ErrInvalidFeedback) {
		t.Fatalf("want ErrInvalidFeedback, got %v", err)
	}
	if _, err := svc.Rate(ctx, a, "missing", 1); !errors.Is(err, ErrTurnNotFound) {
		t.Fatalf("want ErrTurnNotFound, got %v", err)
	}
	if _, err := svc.Rate(ctx, a, root.ID, 1); !errors.Is(err, ErrFeedbackNotAllowed) {
		t.Fatalf("want ErrFeedbackNotAllowed before a reply exists, got %v", err)
	}

	if err := repo.SetBotText(ctx, db, root.ID, "hi!", "echo-1"); err != nil {
		t.Fatalf("set bot text: %v", err)
	}
	if _, err := svc.Rate(ctx, b, root.ID, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}

	fb, err := svc.Rate(ctx, a, root.ID, -1)
	if err != nil || fb.Value != -1 || fb.TurnID != root.ID || fb.UserID != a {
		t.Fatalf("fb=%+v err=%v", fb, err)
	}
	if _, err := svc.Rate(ctx, a, root.ID, 1); !errors.Is(err, ErrDuplicateFeedback) {
		t.Fatalf("want ErrDuplicateFeedback, got %v", err)
	}
}
