// Package fetcher provides the rate-limited HTTP fetch and download helpers
// used by the pre-vetting and image stages.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrTooSmall is returned when a download is rejected because the server
// reported a content length below the caller's minimum.
var ErrTooSmall = errors.New("fetcher: content below minimum size")

// maxBodyBytes caps homepage reads; vetting only needs the head matter.
const maxBodyBytes = 512 * 1024

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	// PerHostRate limits requests per host for politeness. Default: 4/s.
	PerHostRate rate.Limit
	Burst       int
}

// HTTPFetcher performs polite HTTP fetches with per-host rate limiting.
type HTTPFetcher struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an HTTPFetcher with the given options.
func New(opts Options) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "venuescout/1.0 (+https://github.com/gatherstone/venuescout)"
	}
	if opts.PerHostRate == 0 {
		opts.PerHostRate = 4
	}
	if opts.Burst == 0 {
		opts.Burst = 4
	}

	maxRedirects := opts.MaxRedirects
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return eris.Errorf("fetcher: stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.opts.PerHostRate, f.opts.Burst)
		f.limiters[host] = lim
	}
	return lim
}

func (f *HTTPFetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
	}
	return resp, nil
}

// Get fetches the URL and returns up to 512 KiB of the body.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read body from %s", rawURL)
	}
	return body, nil
}

// DownloadToFile streams the URL to path. Downloads are idempotent: an
// existing destination file is kept and reported as skipped. A response whose
// Content-Length is reported below minSize returns ErrTooSmall without
// writing anything; an unreported length is accepted.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL, path string, minSize int64) (written int64, skipped bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		zap.L().Debug("fetcher: destination exists, skipping download",
			zap.String("url", rawURL),
			zap.String("path", path),
		)
		return 0, true, nil
	}

	resp, err := f.do(ctx, rawURL)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return 0, false, eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	if minSize > 0 && resp.ContentLength >= 0 && resp.ContentLength < minSize {
		return 0, false, eris.Wrapf(ErrTooSmall, "fetcher: %s reported %d bytes", rawURL, resp.ContentLength)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, false, eris.Wrap(err, "fetcher: create directory")
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, false, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, resp.Body)
	if err != nil {
		// Half-written files would dangle in the manifest; remove them.
		_ = os.Remove(path)
		return n, false, eris.Wrapf(err, "fetcher: write %s", path)
	}

	return n, false, nil
}
