// Package jina provides a client for the Jina CLIP ranking API, used to score
// images against text labels for the logo filter stage.
package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gatherstone/venuescout/internal/resilience"
)

// Client defines the vision ranking operations.
type Client interface {
	// Rank scores an image (data URI or URL) against the given text labels,
	// returning one CLIP score per label in input order.
	Rank(ctx context.Context, imageURI string, labels []string) ([]float64, error)
}

// RankRequest is the body for POST /rank.
type RankRequest struct {
	Data []RankDocument `json:"data"`
}

// RankDocument pairs one image with its candidate labels.
type RankDocument struct {
	URI     string  `json:"uri"`
	Matches []Match `json:"matches"`
}

// Match is one candidate label.
type Match struct {
	Text string `json:"text"`
}

// RankResponse is the parsed ranking response.
type RankResponse struct {
	Result []RankResult `json:"result"`
}

// RankResult holds the scored matches for one input document.
type RankResult struct {
	Matches []ScoredMatch `json:"matches"`
}

// ScoredMatch is one label with its similarity score.
type ScoredMatch struct {
	Text   string `json:"text"`
	Scores Scores `json:"scores"`
}

// Scores carries the CLIP similarity score.
type Scores struct {
	ClipScore float64 `json:"clip_score"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing or self-hosted CLIP).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the retry budget.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a new CLIP ranking client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.clip.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Rank(ctx context.Context, imageURI string, labels []string) ([]float64, error) {
	if len(labels) == 0 {
		return nil, eris.New("jina: no labels to rank")
	}

	matches := make([]Match, len(labels))
	for i, l := range labels {
		matches[i] = Match{Text: l}
	}
	req := RankRequest{Data: []RankDocument{{URI: imageURI, Matches: matches}}}

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*RankResponse, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "jina: rank")
	}

	if len(resp.Result) == 0 || len(resp.Result[0].Matches) != len(labels) {
		return nil, eris.Errorf("jina: malformed rank response: %d results", len(resp.Result))
	}

	// Scores come back in match order; re-align by label text to be safe
	// against server-side reordering.
	byText := make(map[string]float64, len(labels))
	for _, m := range resp.Result[0].Matches {
		byText[m.Text] = m.Scores.ClipScore
	}
	scores := make([]float64, len(labels))
	for i, l := range labels {
		s, ok := byText[l]
		if !ok {
			s = resp.Result[0].Matches[i].Scores.ClipScore
		}
		scores[i] = s
	}
	return scores, nil
}

func (c *httpClient) post(ctx context.Context, body RankRequest) (*RankResponse, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "jina: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rank", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "jina: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		rerr := eris.Errorf("jina: status %d: %s", resp.StatusCode, truncate(string(data), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(rerr, resp.StatusCode)
		}
		return nil, rerr
	}

	var out RankResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
