package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-notes-backend/internal/domain"
)

// newRepoDB opens a private in-memory database with the full schema.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// mustUser inserts a user and returns its internal id.
func mustUser(t *testing.T, db *gorm.DB, uid string) string {
	t.Helper()
	u, err := CreateUser(context.Background(), db, uid, uid+"@example.com")
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", uid, err)
	}
	return u.ID
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(DriverPostgres, "  "); err == nil {
		t.Fatalf("expected error for empty postgres dsn")
	}
}

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "notes.db")

	db, err := Open(DriverSQLite, bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}

	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpenSQLite_WAL_Pool_Migrate_Instrument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var journalMode string
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := Instrument(db); err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&domain.User{}, &domain.Turn{}, &domain.TurnBranch{}, &domain.Feedback{}, &domain.Idempotency{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	uid := mustUser(t, db, "file-user")
	if _, err := CreateRoot(context.Background(), db, uid, "hello", "Hello"); err != nil {
		t.Fatalf("CreateRoot on file db: %v", err)
	}
}

func TestReset_DeletesConversationDataKeepsUsers(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)
	uid := mustUser(t, db, "alice")

	root, _ := CreateRoot(ctx, db, uid, "root", "Root")
	child := &domain.Turn{UserID: uid, HumanText: "branch", Title: "Root (branch)", ParentID: &root.ID}
	if err := CreateTurn(ctx, db, child); err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}
	if err := AppendBranchedChild(ctx, db, root.ID, child.ID); err != nil {
		t.Fatalf("AppendBranchedChild: %v", err)
	}
	if err := SetBotText(ctx, db, root.ID, "reply", ""); err != nil {
		t.Fatalf("SetBotText: %v", err)
	}
	if _, err := CreateFeedback(ctx, db, root.ID, uid, 1); err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}
	k := IdemKey{UserID: uid, Scope: "POST /turns/:id/replies " + root.ID, Key: "k"}
	if _, err := RememberIdempotency(ctx, db, k, child.ID, 201, time.Hour, time.Now().UTC()); err != nil {
		t.Fatalf("RememberIdempotency: %v", err)
	}

	if err := Reset(ctx, db); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	for _, m := range []any{&domain.Turn{}, &domain.TurnBranch{}, &domain.Feedback{}, &domain.Idempotency{}} {
		var n int64
		db.Model(m).Count(&n)
		if n != 0 {
			t.Fatalf("expected %T to be empty after Reset, got %d rows", m, n)
		}
	}
	if _, err := GetUser(ctx, db, uid); err != nil {
		t.Fatalf("users must survive Reset: %v", err)
	}
}

// Compile-time guard to ensure signature stability.
var _ func(string) (*gorm.DB, error) = OpenSQLite
