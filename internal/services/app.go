package services

import (
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/config"
	"github.com/tbourn/go-notes-backend/internal/generation"
	"github.com/tbourn/go-notes-backend/internal/repo"
)

// App is the application layer built from one database handle, one
// generator and the process configuration. It is shared by the HTTP server
// and the CLI tooling.
type App struct {
	Conversations *ConversationService
	Users         *UserService
	Generation    *GenerationService
	Feedback      *FeedbackService
	Seeder        *Seeder
}

// NewApp wires the services. The Turn Store is the GORM-backed repo.Store.
func NewApp(db *gorm.DB, gen generation.Generator, cfg config.Config) *App {
	conv := NewConversationService(db, repo.Store{})
	conv.MaxDepth = cfg.Tree.MaxDepth
	conv.MaxTextRunes = cfg.Tree.MaxTextRunes
	conv.TitleMaxLen = cfg.Tree.TitleMaxLen

	users := &UserService{DB: db, AutoRegister: cfg.Auth.AutoRegister}
	g := NewGenerationService(conv, gen, cfg.Generation.Timeout, cfg.Generation.Concurrency, cfg.Generation.Sync)

	return &App{
		Conversations: conv,
		Users:         users,
		Generation:    g,
		Feedback:      &FeedbackService{DB: db, Store: repo.Store{}},
		Seeder:        &Seeder{Users: users, Conversations: conv, Generation: g},
	}
}
