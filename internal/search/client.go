// Package search augments chat prompts with web-search results from a hosted
// search API. A search failure never aborts a chat turn; the prompt falls back
// to an explanatory note instead.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAPIBase    = "https://api.bing.microsoft.com/v7.0/search"
	defaultMaxResults = 5
	defaultTimeout    = 10 * time.Second

	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
)

var errMissingAPIKey = errors.New("search: api key is required")

// UpstreamError reports a non-2xx response or malformed payload from the
// search service.
type UpstreamError struct {
	Status  int
	Snippet string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("search: request failed: %s", e.Snippet)
	}
	return fmt.Sprintf("search: returned status %d: %s", e.Status, e.Snippet)
}

// Result is one web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// ClientConfig configures the search client.
type ClientConfig struct {
	APIBase    string
	APIKey     string
	MaxResults int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues web search requests against the hosted search API.
type Client struct {
	apiBase    string
	apiKey     string
	maxResults int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a search client with safe defaults.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingAPIKey
	}
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiBase:    apiBase,
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type wireResponse struct {
	WebPages struct {
		Value []struct {
			Name    string `json:"name"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		} `json:"value"`
	} `json:"webPages"`
}

// Search runs a web query and returns up to MaxResults hits.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase, nil)
	if err != nil {
		return nil, &UpstreamError{Snippet: err.Error()}
	}
	params := req.URL.Query()
	params.Add("q", query)
	params.Add("count", strconv.Itoa(c.maxResults))
	req.URL.RawQuery = params.Encode()
	req.Header.Set(subscriptionKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Snippet: err.Error()}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Snippet: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("search call failed", zap.Int("status", resp.StatusCode))
		return nil, &UpstreamError{Status: resp.StatusCode, Snippet: bodySnippet(body)}
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Snippet: "malformed response payload"}
	}

	results := make([]Result, 0, len(wire.WebPages.Value))
	for _, value := range wire.WebPages.Value {
		if len(results) >= c.maxResults {
			break
		}
		results = append(results, Result{
			Title:   value.Name,
			URL:     value.URL,
			Snippet: value.Snippet,
		})
	}
	return results, nil
}

func bodySnippet(body []byte) string {
	const maxSnippet = 200
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > maxSnippet {
		return trimmed[:maxSnippet]
	}
	return trimmed
}
