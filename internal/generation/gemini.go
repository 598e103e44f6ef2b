package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini generates replies with Google's Gemini models through langchaingo.
type Gemini struct {
	llm   llms.Model
	model string
}

// NewGemini creates a Gemini generator for apiKey. An empty model selects
// DefaultGeminiModel.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{llm: llm, model: model}, nil
}

// NewGeminiWithModel wraps an already constructed langchaingo model.
func NewGeminiWithModel(llm llms.Model, model string) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{llm: llm, model: model}
}

func (g *Gemini) Name() string  { return ProviderGemini }
func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Generate(ctx context.Context, history []Message, input string) (string, error) {
	resp, err := g.llm.GenerateContent(ctx, toLangchain(history, input))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	out := strings.TrimSpace(resp.Choices[0].Content)
	if out == "" {
		return "", ErrEmptyReply
	}
	return out, nil
}

func toLangchain(history []Message, input string) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(history)+1)
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleModel {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Text))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, input))
}
