// Package generation produces bot replies for conversation turns.
//
// A Generator receives the linearized history of a thread (root first, one
// message per human or bot utterance) plus the text of the turn being
// answered, and returns the reply text. Implementations talk to a model
// provider (Gemini through langchaingo, any OpenAI-compatible server through
// go-openai) or, for development and tests, echo the input back.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/go-notes-backend/internal/config"
)

// Role tags a history message.
type Role string

const (
	RoleHuman Role = "human"
	RoleModel Role = "model"
)

// Message is one utterance of the history handed to a Generator.
type Message struct {
	Role Role
	Text string
}

// Generator turns a history plus the current input into a reply.
type Generator interface {
	// Name identifies the provider (used for metrics and logs).
	Name() string
	// Model is the model id recorded on generated turns.
	Model() string
	Generate(ctx context.Context, history []Message, input string) (string, error)
}

// ErrEmptyReply is returned when a provider answers with no text.
var ErrEmptyReply = errors.New("provider returned an empty reply")

// Provider names accepted by New.
const (
	ProviderEcho   = "echo"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// New builds the Generator selected by cfg, wrapped with metrics.
func New(ctx context.Context, cfg config.GenerationConfig) (Generator, error) {
	var (
		g   Generator
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderEcho:
		g = Echo{}
	case ProviderGemini:
		g, err = NewGemini(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		g = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrumented(g), nil
}
