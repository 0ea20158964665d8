package provider

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultAnthropicModel = string(anthropic.ModelClaude3_7SonnetLatest)

// DefaultMaxTokens caps a single reply when none is configured.
const DefaultMaxTokens = 1024

// Anthropic generates text with the Messages API. SDK retries are disabled;
// a failed exchange is reported once to the caller.
type Anthropic struct {
	client    *anthropic.Client
	maxTokens int64
}

// NewAnthropicClient returns a client using the API key from the env unless
// opts override it.
func NewAnthropicClient(opts ...option.RequestOption) *anthropic.Client {
	opts = append([]option.RequestOption{option.WithMaxRetries(0)}, opts...)
	c := anthropic.NewClient(opts...)
	return &c
}

// NewAnthropic wraps client. maxTokens <= 0 means DefaultMaxTokens.
func NewAnthropic(client *anthropic.Client, maxTokens int64) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Anthropic{client: client, maxTokens: maxTokens}
}

// Generate sends prompt as a single user message and returns the text blocks
// of the reply joined in order.
func (a *Anthropic) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = DefaultAnthropicModel
	}
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: a.maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if v, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(v.Text)
		}
	}
	return b.String(), nil
}
