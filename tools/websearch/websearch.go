// Package websearch implements the provider-dispatching search tool from
// spec §4.2, grounded on original_source/core/tools/web_search.py: Tavily /
// SerpAPI / DuckDuckGo provider selection (auto-detected from configured API
// keys, defaulting to the key-free DuckDuckGo) and domain include/exclude
// filters normalized into one result shape.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/tools"
)

// Result is the normalized shape every provider's output is mapped into.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Tool dispatches to whichever search provider is configured.
type Tool struct {
	Provider   string // "tavily", "serpapi", "duckduckgo"
	TavilyKey  string
	SerpAPIKey string
	httpClient *http.Client
}

// New builds a Tool, auto-selecting a provider from the available API keys
// when provider is empty or "auto" (original_source's __init__ logic).
func New(provider, tavilyKey, serpAPIKey string) *Tool {
	if provider == "" || provider == "auto" {
		switch {
		case tavilyKey != "":
			provider = "tavily"
		case serpAPIKey != "":
			provider = "serpapi"
		default:
			provider = "duckduckgo"
		}
	}
	return &Tool{
		Provider:   provider,
		TavilyKey:  tavilyKey,
		SerpAPIKey: serpAPIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports true unconditionally: DuckDuckGo needs no API key.
func (t *Tool) Enabled() bool { return true }

func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "web_search",
		Description: "Search the web for information on any topic. Returns a list of relevant results with titles, URLs, and snippets.",
		Category:    "websearch",
		Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Description: "The search query to execute", Required: true},
			{Name: "max_results", Type: "number", Description: "Maximum results to return (default 5, max 20)", Required: false},
			{Name: "include_domains", Type: "array", Description: "Domains to include", Required: false},
			{Name: "exclude_domains", Type: "array", Description: "Domains to exclude", Required: false},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return tools.ExecutionResult{Success: false, Error: "query is required"}, nil
	}
	maxResults := 5
	if v, ok := params["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}
	if maxResults > 20 {
		maxResults = 20
	}
	include := toStringSlice(params["include_domains"])
	exclude := toStringSlice(params["exclude_domains"])

	var results []Result
	var err error
	switch t.Provider {
	case "tavily":
		results, err = t.searchTavily(ctx, query, maxResults, include, exclude)
	case "serpapi":
		results, err = t.searchSerpAPI(ctx, query, maxResults, include, exclude)
	default:
		results, err = t.searchDuckDuckGo(ctx, query, maxResults, include, exclude)
	}
	if err != nil {
		return tools.ExecutionResult{Success: false, Error: err.Error(), Output: map[string]interface{}{
			"query": query, "provider": t.Provider, "results": []Result{}, "count": 0,
		}}, err
	}

	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{
		"query": query, "provider": t.Provider, "results": results, "count": len(results),
	}}, nil
}

func (t *Tool) searchTavily(ctx context.Context, query string, maxResults int, include, exclude []string) ([]Result, error) {
	if t.TavilyKey == "" {
		return nil, core.NewEngineError("websearch.searchTavily", core.ErrInvalidInput, "TAVILY_API_KEY not configured")
	}
	body, _ := json.Marshal(map[string]interface{}{
		"api_key": t.TavilyKey, "query": query, "max_results": maxResults,
		"include_domains": include, "exclude_domains": exclude, "include_answer": true,
	})
	var parsed struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := t.postJSON(ctx, "https://api.tavily.com/search", body, &parsed); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, Result{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
	}
	return out, nil
}

func (t *Tool) searchSerpAPI(ctx context.Context, query string, maxResults int, include, exclude []string) ([]Result, error) {
	if t.SerpAPIKey == "" {
		return nil, core.NewEngineError("websearch.searchSerpAPI", core.ErrInvalidInput, "SERPAPI_API_KEY not configured")
	}
	q := applyDomainFilters(query, include, exclude)

	vals := url.Values{}
	vals.Set("api_key", t.SerpAPIKey)
	vals.Set("q", q)
	vals.Set("num", fmt.Sprintf("%d", maxResults))
	vals.Set("engine", "google")

	var parsed struct {
		Organic []struct {
			Title    string `json:"title"`
			Link     string `json:"link"`
			Snippet  string `json:"snippet"`
			Position int    `json:"position"`
		} `json:"organic_results"`
	}
	if err := t.getJSON(ctx, "https://serpapi.com/search?"+vals.Encode(), &parsed); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(parsed.Organic))
	for i, r := range parsed.Organic {
		if i >= maxResults {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet, Score: -float64(r.Position)})
	}
	return out, nil
}

// searchDuckDuckGo uses DuckDuckGo's key-free Instant Answer JSON API as a
// fallback provider, mapping its RelatedTopics onto results. It needs no
// configuration, but request and decode failures are returned as errors.
func (t *Tool) searchDuckDuckGo(ctx context.Context, query string, maxResults int, include, exclude []string) ([]Result, error) {
	q := applyDomainFilters(query, include, exclude)
	vals := url.Values{}
	vals.Set("q", q)
	vals.Set("format", "json")
	vals.Set("no_html", "1")

	var parsed struct {
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := t.getJSON(ctx, "https://api.duckduckgo.com/?"+vals.Encode(), &parsed); err != nil {
		return nil, err
	}
	out := make([]Result, 0, maxResults)
	for i, r := range parsed.RelatedTopics {
		if i >= maxResults {
			break
		}
		out = append(out, Result{Title: r.Text, URL: r.FirstURL, Snippet: r.Text, Score: float64(maxResults-i) / float64(maxResults)})
	}
	return out, nil
}

func applyDomainFilters(query string, include, exclude []string) string {
	q := query
	if len(include) > 0 {
		filters := make([]string, len(include))
		for i, d := range include {
			filters[i] = "site:" + d
		}
		q = fmt.Sprintf("%s (%s)", q, strings.Join(filters, " OR "))
	}
	for _, d := range exclude {
		q += " -site:" + d
	}
	return q
}

func (t *Tool) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *Tool) postJSON(ctx context.Context, u string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func toStringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
