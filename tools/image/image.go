// Package image implements the image-generation tool from spec §4.2's
// `image` tool category, grounded on
// original_source/core/tools/image_generator.py: a DALL-E wrapper that
// validates model-specific size/quality/style/n constraints before
// dispatch, decodes the base64 image payload, and optionally persists it
// under a configured storage root, tagging the saved filename with the
// model, a timestamp, and a hash of the prompt for traceability.
package image

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/tools"
)

var dalle3Sizes = map[string]bool{"1024x1024": true, "1792x1024": true, "1024x1792": true}
var dalle2Sizes = map[string]bool{"256x256": true, "512x512": true, "1024x1024": true}

// Tool generates images from text prompts via OpenAI's image models.
type Tool struct {
	client       openai.Client
	storageRoot  string
	defaultModel string
}

// New builds an image Tool. storageRoot is created lazily on first save;
// an empty storageRoot disables persistence (save_to_disk is then always
// treated as false regardless of the caller's request).
func New(apiKey, storageRoot, defaultModel string) *Tool {
	if defaultModel == "" {
		defaultModel = "dall-e-3"
	}
	return &Tool{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		storageRoot:  storageRoot,
		defaultModel: defaultModel,
	}
}

func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "image_generator",
		Description: "Generate images from text descriptions using DALL-E",
		Category:    "image",
		Parameters: []tools.Parameter{
			{Name: "prompt", Type: "string", Description: "Detailed description of the image to generate", Required: true},
			{Name: "model", Type: "string", Description: "dall-e-3 (highest quality) or dall-e-2 (faster, cheaper)", Required: false,
				Enum: []interface{}{"dall-e-3", "dall-e-2"}},
			{Name: "size", Type: "string", Description: "Image size, model-dependent", Required: false,
				Enum: []interface{}{"256x256", "512x512", "1024x1024", "1792x1024", "1024x1792"}},
			{Name: "quality", Type: "string", Description: "standard or hd (dall-e-3 only)", Required: false,
				Enum: []interface{}{"standard", "hd"}},
			{Name: "style", Type: "string", Description: "vivid or natural (dall-e-3 only)", Required: false,
				Enum: []interface{}{"vivid", "natural"}},
			{Name: "n", Type: "number", Description: "Number of images (dall-e-2 only supports >1)", Required: false},
			{Name: "save_to_disk", Type: "boolean", Description: "Persist generated images under the storage root", Required: false},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	prompt, _ := params["prompt"].(string)
	if prompt == "" {
		return fail(core.ErrInvalidInput, "prompt is required")
	}
	model, _ := params["model"].(string)
	if model == "" {
		model = t.defaultModel
	}
	size, _ := params["size"].(string)
	quality, _ := params["quality"].(string)
	if quality == "" {
		quality = "standard"
	}
	style, _ := params["style"].(string)
	if style == "" {
		style = "vivid"
	}
	n := 1
	if raw, ok := params["n"].(float64); ok && raw > 0 {
		n = int(raw)
	}
	saveToDisk := true
	if raw, ok := params["save_to_disk"].(bool); ok {
		saveToDisk = raw
	}

	switch model {
	case "dall-e-3":
		if n != 1 {
			return fail(core.ErrInvalidInput, "dall-e-3 only supports generating 1 image at a time (n=1)")
		}
		if size == "" {
			size = "1024x1024"
		}
		if !dalle3Sizes[size] {
			return fail(core.ErrInvalidInput, "dall-e-3 only supports sizes 1024x1024, 1792x1024, 1024x1792")
		}
	case "dall-e-2":
		if size == "" {
			size = "1024x1024"
		}
		if !dalle2Sizes[size] {
			return fail(core.ErrInvalidInput, "dall-e-2 only supports sizes 256x256, 512x512, 1024x1024")
		}
		quality, style = "", ""
	default:
		return fail(core.ErrInvalidInput, "unsupported model: "+model)
	}

	genParams := openai.ImageGenerateParams{
		Model:          openai.ImageModel(model),
		Prompt:         prompt,
		N:              openai.Int(int64(n)),
		Size:           openai.ImageGenerateParamsSize(size),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}
	if model == "dall-e-3" {
		genParams.Quality = openai.ImageGenerateParamsQuality(quality)
		genParams.Style = openai.ImageGenerateParamsStyle(style)
	}

	resp, err := t.client.Images.Generate(ctx, genParams)
	if err != nil {
		return fail(core.ErrDependencyUnavailable, "image generation failed: "+err.Error())
	}

	images := make([]map[string]interface{}, 0, len(resp.Data))
	var revisedPrompt string
	for idx, img := range resp.Data {
		raw, decodeErr := base64.StdEncoding.DecodeString(img.B64JSON)
		if decodeErr != nil {
			return fail(core.ErrInternal, "failed to decode generated image: "+decodeErr.Error())
		}
		if img.RevisedPrompt != "" {
			revisedPrompt = img.RevisedPrompt
		}
		filename := imageFilename(model, prompt, idx)
		entry := map[string]interface{}{
			"index": idx, "filename": filename, "size_bytes": len(raw), "format": "png",
		}
		if img.RevisedPrompt != "" {
			entry["revised_prompt"] = img.RevisedPrompt
		}
		if saveToDisk && t.storageRoot != "" {
			savedPath, saveErr := t.save(filename, raw)
			if saveErr != nil {
				return fail(core.ErrInternal, "failed to persist generated image: "+saveErr.Error())
			}
			entry["file_path"] = savedPath
		}
		images = append(images, entry)
	}

	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{
		"prompt":         prompt,
		"revised_prompt": revisedPrompt,
		"model":          model,
		"size":           size,
		"quality":        quality,
		"style":          style,
		"images":         images,
		"count":          len(images),
	}}, nil
}

func (t *Tool) save(filename string, data []byte) (string, error) {
	if err := os.MkdirAll(t.storageRoot, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(t.storageRoot, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// imageFilename mirrors original_source's "{model}_{timestamp}_{hash}_{idx}.png"
// naming, swapping the original's MD5 prompt hash for SHA-256 to match
// this repo's hashing choice elsewhere (tools/rag's chunk IDs).
func imageFilename(model, prompt string, idx int) string {
	sum := sha256.Sum256([]byte(prompt))
	hash := hex.EncodeToString(sum[:])[:8]
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s_%d.png", model, timestamp, hash, idx)
}

func fail(kind error, msg string) (tools.ExecutionResult, error) {
	err := core.NewEngineError("image", kind, msg)
	return tools.ExecutionResult{Success: false, Error: msg}, err
}
