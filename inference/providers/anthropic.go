package providers

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
)

// Anthropic adapts anthropic-sdk-go to inference.Provider.
type Anthropic struct {
	client anthropic.Client
	models []string
}

// NewAnthropic builds an Anthropic provider for the given API key and the
// models it should claim (e.g. "claude-3-5-sonnet-latest").
func NewAnthropic(apiKey string, models []string) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		models: models,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) SupportsModel(model string) bool {
	if strings.HasPrefix(model, "claude") {
		return true
	}
	for _, m := range a.models {
		if m == model {
			return true
		}
	}
	return false
}

func (a *Anthropic) Generate(ctx context.Context, prompt, model string, params inference.Params) (string, core.TokenUsage, error) {
	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: params.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", core.TokenUsage{}, classifyAnthropicErr(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := core.TokenUsage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return text.String(), usage, nil
}

func (a *Anthropic) Stream(ctx context.Context, prompt, model string, params inference.Params) (<-chan inference.Chunk, error) {
	out := make(chan inference.Chunk)
	stream := a.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})

	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				out <- inference.Chunk{Delta: delta.Delta.Text}
			}
		}
		out <- inference.Chunk{Done: true}
	}()
	return out, nil
}

func classifyAnthropicErr(err error) error {
	msg := err.Error()
	kind := inference.VendorErrOther
	switch {
	case strings.Contains(msg, "authentication_error") || strings.Contains(msg, "401"):
		kind = inference.VendorErrAuth
	case strings.Contains(msg, "rate_limit"):
		kind = inference.VendorErrRateLimit
	case strings.Contains(msg, "overloaded"):
		kind = inference.VendorErrQuota
	case strings.Contains(msg, "timeout"):
		kind = inference.VendorErrTimeout
	}
	return &inference.VendorError{Provider: "anthropic", Kind: kind, Err: err}
}
