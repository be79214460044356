// Package httpapi implements the outbound HTTP request tool from spec
// §4.2, grounded on original_source/core/tools/api_call.py: a bounded
// method set, a response-size cap, and one retry with backoff (replacing
// the original's bare retry loop with the same cenkalti/backoff/v5 the
// resilience package already wires in, per SPEC_FULL.md §1.4).
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/lalo-ai/lalocore/tools"
)

const maxResponseBytes = 2_000_000

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// Tool issues outbound HTTP requests with a bounded retry policy.
type Tool struct {
	client *http.Client
}

// New builds an httpapi Tool with the given per-request timeout (20s in
// original_source).
func New(timeout time.Duration) *Tool {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Tool{client: &http.Client{Timeout: timeout}}
}

func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "api_call",
		Description: "Make HTTP requests to external APIs with retry and timeout",
		Category:    "httpapi",
		Parameters: []tools.Parameter{
			{Name: "method", Type: "string", Description: "HTTP method", Required: true,
				Enum: []interface{}{"GET", "POST", "PUT", "PATCH", "DELETE"}},
			{Name: "url", Type: "string", Description: "URL to request", Required: true},
			{Name: "headers", Type: "object", Description: "Request headers", Required: false},
			{Name: "json", Type: "object", Description: "JSON body", Required: false},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	method, _ := params["method"].(string)
	rawURL, _ := params["url"].(string)
	if !allowedMethods[method] {
		return tools.ExecutionResult{Success: false, Error: "unsupported method: " + method}, nil
	}
	if rawURL == "" {
		return tools.ExecutionResult{Success: false, Error: "url is required"}, nil
	}

	var body []byte
	if jsonBody, ok := params["json"]; ok && jsonBody != nil {
		var err error
		body, err = json.Marshal(jsonBody)
		if err != nil {
			return tools.ExecutionResult{Success: false, Error: err.Error()}, err
		}
	}
	headers, _ := params["headers"].(map[string]interface{})

	op := func() (*httpOutcome, error) {
		return t.doOnce(ctx, method, rawURL, headers, body)
	}

	outcome, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(uint(2)),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		return tools.ExecutionResult{Success: false, Error: err.Error()}, err
	}

	return tools.ExecutionResult{
		Success: outcome.status < 400,
		Error:   outcome.errMsg,
		Output: map[string]interface{}{
			"status":  outcome.status,
			"headers": outcome.headers,
			"json":    outcome.json,
			"text":    outcome.text,
		},
	}, nil
}

type httpOutcome struct {
	status  int
	headers map[string][]string
	json    interface{}
	text    string
	errMsg  string
}

func (t *Tool) doOnce(ctx context.Context, method, rawURL string, headers map[string]interface{}, body []byte) (*httpOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err // transient network error: retry
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	outcome := &httpOutcome{status: resp.StatusCode, headers: resp.Header}
	var parsed interface{}
	if json.Unmarshal(raw, &parsed) == nil {
		outcome.json = parsed
	} else {
		outcome.text = string(raw)
	}
	if resp.StatusCode >= 400 {
		outcome.errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return outcome, nil
}
