// Package renderer provides a client for the headless-browser render/extract
// endpoint used by the crawl stage.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gatherstone/venuescout/internal/resilience"
)

// Client defines the render endpoint operations.
type Client interface {
	// Render fetches one URL through the headless browser, returning filtered
	// markdown and the same-page internal links.
	Render(ctx context.Context, targetURL string) (*Page, error)
}

// RenderRequest is the body for POST /render.
type RenderRequest struct {
	URLs      []string      `json:"urls"`
	Filter    FilterConfig  `json:"filter"`
	Viewport  Viewport      `json:"viewport"`
	TimeoutMS int           `json:"timeout_ms,omitempty"`
}

// FilterConfig prunes low-density boilerplate from the extracted markdown.
type FilterConfig struct {
	Threshold    float64 `json:"threshold"`
	MinWordCount int     `json:"min_word_count"`
}

// Viewport is the browser viewport used for rendering.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RenderResponse is the response from POST /render.
type RenderResponse struct {
	Results []Result `json:"results"`
}

// Result is the render outcome for one requested URL.
type Result struct {
	Success  bool     `json:"success"`
	Markdown Markdown `json:"markdown"`
	Links    Links    `json:"links"`
}

// Markdown carries the extracted content. The endpoint returns either a plain
// string or an object with fit/raw variants; the filtered fit variant is
// preferred when present.
type Markdown struct {
	Fit string `json:"fit_markdown"`
	Raw string `json:"raw_markdown"`
}

// UnmarshalJSON accepts both the object form and a bare string.
func (m *Markdown) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		m.Raw = s
		return nil
	}
	type alias Markdown
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = Markdown(a)
	return nil
}

// Content returns the filtered markdown, falling back to the raw variant.
func (m Markdown) Content() string {
	if m.Fit != "" {
		return m.Fit
	}
	return m.Raw
}

// Links holds the outbound links discovered on the page.
type Links struct {
	Internal []Link `json:"internal"`
}

// Link is a single discovered link. The endpoint emits either bare href
// strings or {href, text} objects.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// UnmarshalJSON accepts both the object form and a bare string.
func (l *Link) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		l.Href = s
		return nil
	}
	type alias Link
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*l = Link(a)
	return nil
}

// Page is the per-URL result exposed to the crawl stage.
type Page struct {
	Markdown string
	Links    []string
}

// Option configures the renderer client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithFilter overrides the content-density filter settings.
func WithFilter(f FilterConfig) Option {
	return func(c *httpClient) {
		c.filter = f
	}
}

// WithViewport overrides the render viewport.
func WithViewport(v Viewport) Option {
	return func(c *httpClient) {
		c.viewport = v
	}
}

// WithRetryConfig overrides the retry budget.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker overrides the default breaker guarding the endpoint.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	baseURL  string
	http     *http.Client
	filter   FilterConfig
	viewport Viewport
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
}

// NewClient creates a renderer client for the given endpoint base URL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 45 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		filter:   FilterConfig{Threshold: 0.48, MinWordCount: 75},
		viewport: Viewport{Width: 1280, Height: 800},
		retry:    resilience.DefaultRetryConfig(),
		breaker:  resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Render(ctx context.Context, targetURL string) (*Page, error) {
	req := RenderRequest{
		URLs:      []string{targetURL},
		Filter:    c.filter,
		Viewport:  c.viewport,
		TimeoutMS: 30000,
	}

	resp, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*RenderResponse, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*RenderResponse, error) {
			return c.post(ctx, req)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "renderer: render %s", targetURL)
	}

	if len(resp.Results) == 0 {
		return nil, eris.Errorf("renderer: empty result set for %s", targetURL)
	}
	result := resp.Results[0]
	if !result.Success {
		return nil, eris.Errorf("renderer: render not successful for %s", targetURL)
	}

	page := &Page{Markdown: result.Markdown.Content()}
	for _, l := range result.Links.Internal {
		if l.Href != "" {
			page.Links = append(page.Links, l.Href)
		}
	}
	return page, nil
}

func (c *httpClient) post(ctx context.Context, body RenderRequest) (*RenderResponse, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "renderer: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "renderer: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "renderer: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "renderer: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.New(fmt.Sprintf("renderer: status %d: %s", resp.StatusCode, truncate(string(data), 200)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var out RenderResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "renderer: decode response")
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
