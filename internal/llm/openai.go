package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// OpenAI talks to the OpenAI chat completions API or any compatible server.
type OpenAI struct {
	client     *openai.Client
	model      string
	titleModel string
	maxTokens  int
	logger     *slog.Logger
}

func NewOpenAI(opts Options, logger *slog.Logger) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(cfg),
		model:      opts.Model,
		titleModel: opts.TitleModel,
		maxTokens:  opts.MaxTokens,
		logger:     logger,
	}
}

func (o *OpenAI) Generate(ctx context.Context, history []transcript.Entry, opts ...GenerateOption) iter.Seq2[string, error] {
	model := ResolveModel(o.model, opts...)
	return func(yield func(string, error) bool) {
		stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:     model,
			MaxTokens: o.maxTokens,
			Messages:  openAIMessages(history),
			Stream:    true,
		})
		if err != nil {
			yield("", fmt.Errorf("openai stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("openai stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if !yield(resp.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}

func (o *OpenAI) Summarize(ctx context.Context, firstMessage string) string {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.titleModel,
		MaxTokens:   titleMaxTokens,
		Temperature: titleTemperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: titleRequest(firstMessage)},
		},
	})
	if err != nil {
		o.logger.Warn("title generation failed", "error", err)
		return DefaultTitle
	}
	if len(resp.Choices) == 0 {
		return DefaultTitle
	}
	return cleanTitle(resp.Choices[0].Message.Content)
}

func openAIMessages(history []transcript.Entry) []openai.ChatCompletionMessage {
	entries := promptHistory(history)
	out := make([]openai.ChatCompletionMessage, 0, len(entries))
	for _, e := range entries {
		role := openai.ChatMessageRoleUser
		if e.Role == transcript.RoleGenerated {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: e.Text})
	}
	return out
}
