// Package overpass provides a client for the Overpass OSM query API with
// mirror fail-over. The public mirrors share no SLA, so every query retries
// with backoff and then advances down the endpoint list.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/gatherstone/venuescout/internal/resilience"
)

// DefaultEndpoints are the public Overpass mirrors, in preference order.
var DefaultEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
	"https://overpass.osm.ch/api/interpreter",
}

// Element is one OSM element returned by a query. Nodes carry direct lat/lon;
// ways and relations carry a center.
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat,omitempty"`
	Lon    float64           `json:"lon,omitempty"`
	Center *Center           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Center is the computed centroid of a way or relation.
type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ExternalID returns the stable OSM identifier, e.g. "node/123456".
func (e Element) ExternalID() string {
	return fmt.Sprintf("%s/%d", e.Type, e.ID)
}

// Coordinates resolves the element position from direct lat/lon or the
// center. ok is false when neither is present.
func (e Element) Coordinates() (lat, lon float64, ok bool) {
	if e.Lat != 0 || e.Lon != 0 {
		return e.Lat, e.Lon, true
	}
	if e.Center != nil {
		return e.Center.Lat, e.Center.Lon, true
	}
	return 0, 0, false
}

// Response is the parsed Overpass API response.
type Response struct {
	Elements []Element `json:"elements"`
}

// BoundsQuery builds an Overpass QL query matching the given key=value
// selectors inside a bounding box. Selectors are raw "key=value" strings.
func BoundsQuery(selectors []string, south, west, north, east float64) string {
	var b strings.Builder
	b.WriteString("[out:json][timeout:25];(")
	for _, sel := range selectors {
		key, value, found := strings.Cut(sel, "=")
		if !found || key == "" {
			continue
		}
		fmt.Fprintf(&b, "nwr[%q=%q](%f,%f,%f,%f);", key, value, south, west, north, east)
	}
	b.WriteString(");out center;")
	return b.String()
}

// Client defines the Overpass operations used by the collection stage.
type Client interface {
	// Query runs an Overpass QL query and returns the matched elements.
	Query(ctx context.Context, ql string) (*Response, error)
}

// Option configures the Overpass client.
type Option func(*httpClient)

// WithEndpoints overrides the mirror list.
func WithEndpoints(endpoints []string) Option {
	return func(c *httpClient) {
		if len(endpoints) > 0 {
			c.endpoints = endpoints
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the politeness rate for sequential queries against the
// shared public mirrors. Default: one query per 2 seconds.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithRetryConfig overrides the per-endpoint retry budget.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	endpoints []string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
}

// NewClient creates an Overpass client with the default mirror list.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		endpoints: DefaultEndpoints,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Query(ctx context.Context, ql string) (*Response, error) {
	return resilience.Failover(ctx, c.retry, c.endpoints,
		func(ctx context.Context, endpoint string) (*Response, error) {
			return c.queryEndpoint(ctx, endpoint, ql)
		})
}

func (c *httpClient) queryEndpoint(ctx context.Context, endpoint, ql string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "overpass: rate limiter wait")
	}

	form := url.Values{"data": {ql}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "venuescout/1.0 (+https://github.com/gatherstone/venuescout)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("overpass: status %d from %s: %s", resp.StatusCode, endpoint, truncate(string(body), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "overpass: unmarshal response")
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
