package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Provider is the model boundary: one prompt pair in, raw text out.
// Implementations should return transport failures unwrapped; Client
// classifies them.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// AnthropicProvider completes prompts against the Anthropic Messages
// API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicProvider builds a provider for the given API key and
// model name (e.g. "claude-sonnet-4-5").
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: 4096,
	}
}

// Complete sends one prompt pair and concatenates the text blocks of
// the reply.
func (p *AnthropicProvider) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(0.7),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages request failed: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// Config holds Client settings.
type Config struct {
	// Timeout bounds one full synthesis round trip.
	Timeout time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{Timeout: 120 * time.Second}
}

// Client drives one synthesis round trip: send the request, strip any
// markdown fencing, validate the payload against the delta schema.
type Client struct {
	provider Provider
	timeout  time.Duration
}

// NewClient creates a Client with default settings.
func NewClient(provider Provider) *Client {
	return NewClientWithConfig(provider, DefaultConfig())
}

// NewClientWithConfig creates a Client with custom settings.
func NewClientWithConfig(provider Provider, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{provider: provider, timeout: cfg.Timeout}
}

// Synthesize executes req and returns the validated delta. Failures
// map onto the package's error classes: provider failures wrap
// ErrUpstream, unparseable payloads wrap ErrMalformed, and parseable
// but nonconforming payloads wrap ErrSchemaViolation.
func (c *Client) Synthesize(ctx context.Context, req Request) (*Delta, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.provider.Complete(ctx, req.System, req.User)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return ParseDelta([]byte(stripFences(raw)))
}

// stripFences removes a surrounding markdown code fence, with or
// without a language tag. Models wrap JSON this way often enough that
// treating it as malformed would reject otherwise valid responses.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
