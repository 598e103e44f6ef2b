package repo

import (
	"context"
	"errors"
	"testing"
)

func TestUsers_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)

	u, err := CreateUser(ctx, db, "firebase-uid-1", "a@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := CreateUser(ctx, db, "firebase-uid-1", "other@example.com"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated uid, got %v", err)
	}

	byID, err := GetUser(ctx, db, u.ID)
	if err != nil || byID.UID != "firebase-uid-1" {
		t.Fatalf("GetUser = %+v, %v", byID, err)
	}
	byUID, err := GetUserByUID(ctx, db, "firebase-uid-1")
	if err != nil || byUID.ID != u.ID {
		t.Fatalf("GetUserByUID = %+v, %v", byUID, err)
	}
	if _, err := GetUserByUID(ctx, db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := UpdateUserEmail(ctx, db, u.ID, "new@example.com"); err != nil {
		t.Fatalf("UpdateUserEmail: %v", err)
	}
	if err := UpdateUserEmail(ctx, db, "missing", "x@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	again, _ := GetUser(ctx, db, u.ID)
	if again.Email != "new@example.com" {
		t.Fatalf("email not updated: %q", again.Email)
	}
}

func TestFeedback_CreateDuplicateGet(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)
	uid := mustUser(t, db, "alice")
	root, _ := CreateRoot(ctx, db, uid, "hi", "Hi")

	fb, err := CreateFeedback(ctx, db, root.ID, uid, 1)
	if err != nil || fb.Value != 1 {
		t.Fatalf("CreateFeedback = %+v, %v", fb, err)
	}
	if _, err := CreateFeedback(ctx, db, root.ID, uid, -1); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, err := GetFeedback(ctx, db, root.ID, uid)
	if err != nil || got.ID != fb.ID {
		t.Fatalf("GetFeedback = %+v, %v", got, err)
	}
}
