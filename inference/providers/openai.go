// Package providers holds the concrete vendor adapters for inference.Gateway
// (spec §4.1's "concrete providers: remote vendor, local inference"),
// grounded on the teacher's ai/providers/openai, ai/providers/anthropic
// layout and the real vendor SDKs used elsewhere in the reference corpus
// (goadesign-goa-ai, basegraphhq-basegraph).
package providers

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
)

// OpenAI adapts the official openai-go SDK to inference.Provider.
type OpenAI struct {
	client openai.Client
	models []string
}

// NewOpenAI builds an OpenAI provider for the given API key and the models
// it should claim (e.g. "gpt-4o", "gpt-4o-mini").
func NewOpenAI(apiKey string, models []string) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		models: models,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) SupportsModel(model string) bool {
	for _, m := range o.models {
		if m == model || strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") {
			return true
		}
	}
	return false
}

func (o *OpenAI) Generate(ctx context.Context, prompt, model string, params inference.Params) (string, core.TokenUsage, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if params.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(params.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		Temperature: openai.Float(float64(params.Temperature)),
		MaxTokens:   openai.Int(int64(params.MaxTokens)),
	})
	if err != nil {
		return "", core.TokenUsage{}, classifyOpenAIErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", core.TokenUsage{}, &inference.VendorError{Provider: "openai", Kind: inference.VendorErrOther, Err: errEmptyResponse}
	}

	usage := core.TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return resp.Choices[0].Message.Content, usage, nil
}

func (o *OpenAI) Stream(ctx context.Context, prompt, model string, params inference.Params) (<-chan inference.Chunk, error) {
	out := make(chan inference.Chunk)
	messages := []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)}
	stream := o.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	})

	go func() {
		defer close(out)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 {
				out <- inference.Chunk{Delta: chunk.Choices[0].Delta.Content}
			}
		}
		out <- inference.Chunk{Done: true}
	}()
	return out, nil
}

func classifyOpenAIErr(err error) error {
	msg := err.Error()
	kind := inference.VendorErrOther
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "invalid_api_key"):
		kind = inference.VendorErrAuth
	case strings.Contains(msg, "429") && strings.Contains(strings.ToLower(msg), "quota"):
		kind = inference.VendorErrQuota
	case strings.Contains(msg, "429"):
		kind = inference.VendorErrRateLimit
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		kind = inference.VendorErrTimeout
	}
	return &inference.VendorError{Provider: "openai", Kind: kind, Err: err}
}

var errEmptyResponse = emptyResponseError{}

type emptyResponseError struct{}

func (emptyResponseError) Error() string { return "provider returned no choices" }
