// Package llm adapts streaming text-generation backends to the fragment
// sequence the chat runner consumes.
package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// DefaultTitle is used whenever a title cannot be generated.
const DefaultTitle = "New Chat"

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Generator is the text-generation collaborator.
type Generator interface {
	// Generate streams the reply to history as text fragments. The sequence
	// ends when the backend signals completion; an error is yielded last.
	Generate(ctx context.Context, history []transcript.Entry, opts ...GenerateOption) iter.Seq2[string, error]
	// Summarize returns a short title for a conversation opening with
	// firstMessage, or DefaultTitle on any failure.
	Summarize(ctx context.Context, firstMessage string) string
}

// GenerateOption adjusts a single Generate call.
type GenerateOption func(*generateConfig)

type generateConfig struct {
	model string
}

// WithModel generates with model instead of the configured one. An empty
// model keeps the default.
func WithModel(model string) GenerateOption {
	return func(c *generateConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// ResolveModel returns the model a Generate call with opts should use when
// the generator's own model is def.
func ResolveModel(def string, opts ...GenerateOption) string {
	c := generateConfig{model: def}
	for _, opt := range opts {
		opt(&c)
	}
	return c.model
}

// Options configures a Generator.
type Options struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	TitleModel string
	MaxTokens  int
}

// New builds the Generator for opts.Provider.
func New(opts Options, logger *slog.Logger) (Generator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", opts.Provider)
	}
	if opts.TitleModel == "" {
		opts.TitleModel = opts.Model
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	switch opts.Provider {
	case ProviderAnthropic, "":
		return NewAnthropic(opts, logger), nil
	case ProviderOpenAI:
		return NewOpenAI(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

const (
	titleMaxTokens   = 20
	titleTemperature = 0.3
)

const titlePrompt = `Generate a short, descriptive title (3-6 words) for a chat conversation that starts with this message: %q.

The title should:
- Be concise and clear
- Capture the main topic or intent
- Not use quotes or special characters
- Be suitable as a chat thread title

Examples:
- "How to learn React" for a message about React learning
- "Recipe for chocolate cake" for a cooking question
- "Travel tips for Japan" for travel advice

Only respond with the title, nothing else.`

func titleRequest(firstMessage string) string {
	return fmt.Sprintf(titlePrompt, firstMessage)
}

// cleanTitle trims model output down to a bare title.
func cleanTitle(raw string) string {
	t := strings.TrimSpace(raw)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.Trim(t, "\"'`")
	t = strings.TrimSpace(t)
	if t == "" {
		return DefaultTitle
	}
	return t
}

// promptHistory drops entries that carry no text; an aborted run can leave
// an empty generated entry behind, and the providers reject empty turns.
func promptHistory(history []transcript.Entry) []transcript.Entry {
	out := make([]transcript.Entry, 0, len(history))
	for _, e := range history {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}
