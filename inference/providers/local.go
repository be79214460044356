package providers

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
)

// Local adapts an OpenAI-compatible local inference server (Ollama, vLLM,
// llama.cpp's server mode) to inference.Provider, grounded on the
// teacher's WithProviderAlias "intelligent auto-configuration" (ai/provider.go)
// that treats Ollama as an OpenAI-compatible base URL. Models served here
// are always available per spec §4.1 ("Local models are always available
// if their binary artifact is present") — callers register them via
// Gateway.RegisterLocalModel rather than through a principal's credentials.
type Local struct {
	client openai.Client
	models []string
}

// NewLocal builds a Local provider against baseURL (default
// "http://localhost:11434/v1" for Ollama) claiming the given model names.
func NewLocal(baseURL string, models []string) *Local {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return &Local{
		client: openai.NewClient(option.WithBaseURL(baseURL), option.WithAPIKey("local")),
		models: models,
	}
}

func (l *Local) Name() string { return "local" }

func (l *Local) SupportsModel(model string) bool {
	for _, m := range l.models {
		if m == model {
			return true
		}
	}
	return false
}

func (l *Local) Generate(ctx context.Context, prompt, model string, params inference.Params) (string, core.TokenUsage, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)}
	resp, err := l.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		kind := inference.VendorErrOther
		if strings.Contains(err.Error(), "connection refused") {
			kind = inference.VendorErrTimeout
		}
		return "", core.TokenUsage{}, &inference.VendorError{Provider: "local", Kind: kind, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", core.TokenUsage{}, &inference.VendorError{Provider: "local", Kind: inference.VendorErrOther, Err: errEmptyResponse}
	}
	return resp.Choices[0].Message.Content, core.TokenUsage{}, nil
}

func (l *Local) Stream(ctx context.Context, prompt, model string, params inference.Params) (<-chan inference.Chunk, error) {
	out := make(chan inference.Chunk)
	stream := l.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
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
