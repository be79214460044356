package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
)

// Bedrock adapts aws-sdk-go-v2's bedrockruntime client to inference.Provider,
// grounded on the teacher's ai/go.mod Bedrock dependency (the teacher
// imports bedrockruntime but the distilled example corpus never wires a
// concrete usage — this is where that dependency actually does work).
type Bedrock struct {
	client *bedrockruntime.Client
	models []string
}

// NewBedrock builds a Bedrock provider using the default AWS credential
// chain (env vars, shared config, IAM role), for the given region and the
// model IDs it should claim (e.g. "anthropic.claude-3-sonnet-20240229-v1:0").
func NewBedrock(ctx context.Context, region string, models []string) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, &inference.VendorError{Provider: "bedrock", Kind: inference.VendorErrOther, Err: err}
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(cfg), models: models}, nil
}

func (b *Bedrock) Name() string { return "bedrock" }

func (b *Bedrock) SupportsModel(model string) bool {
	if strings.HasPrefix(model, "anthropic.") || strings.HasPrefix(model, "amazon.") || strings.HasPrefix(model, "meta.") {
		return true
	}
	for _, m := range b.models {
		if m == model {
			return true
		}
	}
	return false
}

type bedrockAnthropicRequest struct {
	AnthropicVersion string                 `json:"anthropic_version"`
	MaxTokens        int                    `json:"max_tokens"`
	Messages         []bedrockMessage       `json:"messages"`
	System           string                 `json:"system,omitempty"`
	Temperature      float32                `json:"temperature,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *Bedrock) Generate(ctx context.Context, prompt, model string, params inference.Params) (string, core.TokenUsage, error) {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	reqBody, err := json.Marshal(bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      params.Temperature,
		System:           params.SystemPrompt,
		Messages:         []bedrockMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", core.TokenUsage{}, &inference.VendorError{Provider: "bedrock", Kind: inference.VendorErrOther, Err: err}
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        reqBody,
	})
	if err != nil {
		return "", core.TokenUsage{}, classifyBedrockErr(err)
	}

	var parsed bedrockAnthropicResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return "", core.TokenUsage{}, &inference.VendorError{Provider: "bedrock", Kind: inference.VendorErrOther, Err: err}
	}

	var text bytes.Buffer
	for _, c := range parsed.Content {
		text.WriteString(c.Text)
	}

	usage := core.TokenUsage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	return text.String(), usage, nil
}

// Stream uses Bedrock's response-stream API; the JSON of each chunk event
// is decoded for its delta.text, which is sent as one Chunk, and a final
// Done chunk follows once the event stream ends.
func (b *Bedrock) Stream(ctx context.Context, prompt, model string, params inference.Params) (<-chan inference.Chunk, error) {
	reqBody, err := json.Marshal(bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        max(params.MaxTokens, 1024),
		Messages:         []bedrockMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, &inference.VendorError{Provider: "bedrock", Kind: inference.VendorErrOther, Err: err}
	}

	resp, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        reqBody,
	})
	if err != nil {
		return nil, classifyBedrockErr(err)
	}

	out := make(chan inference.Chunk)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()
		for event := range stream.Events() {
			if chunkEvent, ok := event.(*bedrocktypes.ResponseStreamMemberChunk); ok {
				var parsed struct {
					Delta struct {
						Text string `json:"text"`
					} `json:"delta"`
				}
				if json.Unmarshal(chunkEvent.Value.Bytes, &parsed) == nil {
					out <- inference.Chunk{Delta: parsed.Delta.Text}
				}
			}
		}
		out <- inference.Chunk{Done: true}
	}()
	return out, nil
}

func classifyBedrockErr(err error) error {
	msg := err.Error()
	kind := inference.VendorErrOther
	switch {
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "UnrecognizedClient"):
		kind = inference.VendorErrAuth
	case strings.Contains(msg, "Throttling"):
		kind = inference.VendorErrRateLimit
	case strings.Contains(msg, "ServiceQuotaExceeded"):
		kind = inference.VendorErrQuota
	case strings.Contains(msg, "context deadline exceeded"):
		kind = inference.VendorErrTimeout
	}
	return &inference.VendorError{Provider: "bedrock", Kind: kind, Err: err}
}
