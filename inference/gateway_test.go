package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/core"
)

func TestGatewayGenerateDispatchesToSupportingProvider(t *testing.T) {
	fake := &FakeProvider{
		ProviderName: "fake",
		Models:       []string{"fake-model"},
		Responses:    map[string]string{"hello": "world"},
	}
	gw := NewGateway([]Provider{fake})

	text, _, err := gw.Generate(context.Background(), "hello", "fake-model", Params{})
	require.NoError(t, err)
	assert.Equal(t, "world", text)
	assert.Equal(t, []string{"hello"}, fake.Calls)
}

func TestGatewayGenerateNoProviderForModel(t *testing.T) {
	gw := NewGateway([]Provider{&FakeProvider{ProviderName: "fake", Models: []string{"fake-model"}}})

	_, _, err := gw.Generate(context.Background(), "hello", "unknown-model", Params{})
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestGatewayGenerateClassifiesVendorError(t *testing.T) {
	fake := &FakeProvider{
		ProviderName: "fake",
		Models:       []string{"fake-model"},
		Err:          &VendorError{Provider: "fake", Kind: VendorErrRateLimit, Err: errors.New("429")},
	}
	gw := NewGateway([]Provider{fake})

	_, _, err := gw.Generate(context.Background(), "hello", "fake-model", Params{})
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, core.ErrRateLimited.Error(), core.Kind(err))
}

func TestGatewayAvailableModelsCombinesLocalAndPrincipal(t *testing.T) {
	gw := NewGateway([]Provider{&FakeProvider{ProviderName: "fake"}})
	gw.RegisterLocalModel("local-model")
	gw.principalModel["u1"] = []string{"remote-model"}

	models := gw.AvailableModels(core.Principal{UserID: "u1"})
	assert.Contains(t, models, "local-model")
	assert.Contains(t, models, "remote-model")
}

func TestGatewayStreamProducesChunksThenDone(t *testing.T) {
	fake := &FakeProvider{
		ProviderName: "fake",
		Models:       []string{"fake-model"},
		Default:      "streamed",
	}
	gw := NewGateway([]Provider{fake})

	ch, err := gw.Stream(context.Background(), "anything", "fake-model", Params{})
	require.NoError(t, err)

	var deltas []string
	done := false
	for chunk := range ch {
		if chunk.Done {
			done = true
			continue
		}
		deltas = append(deltas, chunk.Delta)
	}
	assert.True(t, done)
	assert.Equal(t, []string{"streamed"}, deltas)
}
