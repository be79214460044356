package inference

import (
	"context"

	"github.com/lalo-ai/lalocore/core"
)

// FakeProvider is an in-memory Provider for tests, preserving the spec §9
// "FakeLocalInferenceServer" test affordance. Responses is keyed by exact
// prompt match; Err forces every call to fail with the given error.
type FakeProvider struct {
	ProviderName string
	Models       []string
	Responses    map[string]string
	Default      string
	Err          error
	Calls        []string
}

var _ Provider = (*FakeProvider)(nil)

func (f *FakeProvider) Name() string { return f.ProviderName }

func (f *FakeProvider) SupportsModel(model string) bool {
	for _, m := range f.Models {
		if m == model {
			return true
		}
	}
	return false
}

func (f *FakeProvider) Generate(ctx context.Context, prompt, model string, params Params) (string, core.TokenUsage, error) {
	f.Calls = append(f.Calls, prompt)
	if f.Err != nil {
		return "", core.TokenUsage{}, f.Err
	}
	if resp, ok := f.Responses[prompt]; ok {
		return resp, core.TokenUsage{TotalTokens: len(resp)}, nil
	}
	return f.Default, core.TokenUsage{TotalTokens: len(f.Default)}, nil
}

func (f *FakeProvider) Stream(ctx context.Context, prompt, model string, params Params) (<-chan Chunk, error) {
	out := make(chan Chunk, 2)
	text, _, err := f.Generate(ctx, prompt, model, params)
	if err != nil {
		close(out)
		return out, err
	}
	out <- Chunk{Delta: text}
	out <- Chunk{Done: true}
	close(out)
	return out, nil
}
