package generation

import (
	"context"
	"strings"
)

const echoModel = "echo-1"

// Echo answers by repeating the input. It never fails and needs no
// credentials.
type Echo struct{}

func (Echo) Name() string  { return ProviderEcho }
func (Echo) Model() string { return echoModel }

func (Echo) Generate(ctx context.Context, _ []Message, input string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "I see that you said " + strings.TrimSpace(input), nil
}
