package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/domain"
	"github.com/tbourn/go-notes-backend/internal/repo"
)

// SeedUID is the external uid owning the demo conversations.
const SeedUID = "seed-user"

// SeedResult lists the turns created by Seeder.Seed.
type SeedResult struct {
	User  *domain.User  `json:"user"`
	Turns []domain.Turn `json:"turns"`
}

// Seeder creates a small demo tree: a BJT question with a linear reply, a
// branch off it that goes three turns deep, and a branch off that branch.
type Seeder struct {
	Users         *UserService
	Conversations *ConversationService
	// Generation, when set, gets a Dispatch for each created turn.
	Generation *GenerationService
}

// seedStep is one turn of the demo tree. parent indexes an earlier step;
// -1 starts a new conversation.
type seedStep struct {
	parent int
	branch bool
	text   string
}

var seedTree = []seedStep{
	{parent: -1, text: "Can you explain to me the BJT (semiconductor)?"},
	{parent: 0, text: "Is there any usage of BJT amplifiers besides audio amplification?"},
	{parent: 0, branch: true, text: "Can you explain to me the basics of semiconductors first?"},
	{parent: 2, text: "Can you explain the p-n junction?"},
	{parent: 3, text: "What’s the difference between “p-side” and “p-terminal”?"},
	{parent: 3, branch: true, text: "Why does the depletion region create an electric field?"},
}

// Seed creates the demo conversations for the user registered as uid
// (SeedUID when blank), registering the user if needed. The tree is built
// in one transaction: either every turn exists afterwards or none does.
// Generation is dispatched only after commit.
func (s *Seeder) Seed(ctx context.Context, uid string) (*SeedResult, error) {
	if uid == "" {
		uid = SeedUID
	}
	for _, st := range seedTree {
		if _, err := s.Conversations.validateText(st.text); err != nil {
			return nil, fmt.Errorf("seed text %q: %w", st.text, err)
		}
	}

	resolver := UserService{DB: s.Users.DB, AutoRegister: true}
	u, err := resolver.Resolve(ctx, domain.Identity{UID: uid})
	if err != nil {
		return nil, err
	}

	turns := make([]*domain.Turn, 0, len(seedTree))
	err = s.Conversations.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := *s.Conversations
		conv.DB = tx
		for _, st := range seedTree {
			var t *domain.Turn
			var err error
			switch {
			case st.parent < 0:
				t, err = conv.Create(ctx, u.ID, st.text, "")
			case st.branch:
				t, err = conv.BranchReply(ctx, u.ID, turns[st.parent].ID, st.text)
			default:
				t, err = conv.Reply(ctx, u.ID, turns[st.parent].ID, st.text)
			}
			if err != nil {
				return err
			}
			turns = append(turns, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &SeedResult{User: u, Turns: make([]domain.Turn, 0, len(turns))}
	for _, t := range turns {
		if s.Generation != nil {
			s.Generation.Dispatch(ctx, t)
		}
		res.Turns = append(res.Turns, *t)
	}
	return res, nil
}

// Reset deletes every turn, branch link, feedback and idempotency record.
// Users are kept.
func (s *Seeder) Reset(ctx context.Context) error {
	return repo.Reset(ctx, s.Users.DB)
}
