package image_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/tools/image"
)

// These cases all fail parameter validation before the tool would ever
// reach the network, so they exercise the real Tool without a live
// OpenAI credential.

func TestExecuteRejectsEmptyPrompt(t *testing.T) {
	tool := image.New("", "", "")
	result, err := tool.Execute(context.Background(), map[string]interface{}{"prompt": ""})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrInvalidInput.Error(), core.Kind(err))
}

func TestExecuteRejectsMultiImageDalle3(t *testing.T) {
	tool := image.New("", "", "")
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"prompt": "a red bicycle", "model": "dall-e-3", "n": float64(2),
	})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestExecuteRejectsUnsupportedSizeForModel(t *testing.T) {
	tool := image.New("", "", "")
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"prompt": "a red bicycle", "model": "dall-e-2", "size": "1792x1024",
	})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestExecuteRejectsUnknownModel(t *testing.T) {
	tool := image.New("", "", "")
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"prompt": "a red bicycle", "model": "stable-diffusion-xl",
	})
	require.Error(t, err)
	assert.False(t, result.Success)
}
