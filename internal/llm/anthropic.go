package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

type Anthropic struct {
	client     anthropic.Client
	model      string
	titleModel string
	maxTokens  int
	logger     *slog.Logger
}

func NewAnthropic(opts Options, logger *slog.Logger, extra ...option.RequestOption) *Anthropic {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	reqOpts = append(reqOpts, extra...)
	return &Anthropic{
		client:     anthropic.NewClient(reqOpts...),
		model:      opts.Model,
		titleModel: opts.TitleModel,
		maxTokens:  opts.MaxTokens,
		logger:     logger,
	}
}

func (a *Anthropic) Generate(ctx context.Context, history []transcript.Entry, opts ...GenerateOption) iter.Seq2[string, error] {
	model := ResolveModel(a.model, opts...)
	return func(yield func(string, error) bool) {
		stream := a.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(a.maxTokens),
			Messages:  anthropicMessages(history),
		})
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok {
				continue
			}
			if !yield(text.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("anthropic stream: %w", err))
		}
	}
}

func (a *Anthropic) Summarize(ctx context.Context, firstMessage string) string {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.titleModel),
		MaxTokens:   titleMaxTokens,
		Temperature: anthropic.Float(titleTemperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(titleRequest(firstMessage))),
		},
	})
	if err != nil {
		a.logger.Warn("title generation failed", "error", err)
		return DefaultTitle
	}
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			return cleanTitle(text.Text)
		}
	}
	return DefaultTitle
}

func anthropicMessages(history []transcript.Entry) []anthropic.MessageParam {
	entries := promptHistory(history)
	out := make([]anthropic.MessageParam, 0, len(entries))
	for _, e := range entries {
		block := anthropic.NewTextBlock(e.Text)
		if e.Role == transcript.RoleGenerated {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
