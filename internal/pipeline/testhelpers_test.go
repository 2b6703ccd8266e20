package pipeline

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/gatherstone/venuescout/internal/config"
	"github.com/gatherstone/venuescout/internal/fetcher"
	"github.com/gatherstone/venuescout/internal/store"
)

// testConfig returns a Config with the stage defaults used in production.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Collect: config.CollectConfig{
			TileSizeDeg: 0.05,
			Selectors:   []string{`amenity=events_venue`, `historic=manor`},
		},
		Prevet: config.PrevetConfig{Concurrency: 4},
		Crawl:  config.CrawlConfig{Concurrency: 4, MaxDepth: 3, MaxLinksPerPage: 10},
		Images: config.ImagesConfig{Dir: t.TempDir(), MinBytes: 1024, Concurrency: 4},
		Enrich: config.EnrichConfig{
			MaxAttempts:     3,
			BaseTemperature: 0.1,
			TemperatureStep: 0.2,
			MaxDocChars:     3000,
		},
		Filter:    config.FilterConfig{Concurrency: 4, LogoThreshold: 0.85},
		Anthropic: config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 512},
	}
}

func nowPtr() *time.Time {
	now := time.Now().UTC()
	return &now
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func testEnv(t *testing.T, st store.Store) *Env {
	t.Helper()
	return &Env{
		Cfg:     testConfig(t),
		Store:   st,
		Fetcher: fetcher.New(fetcher.Options{PerHostRate: rate.Inf, Burst: 1}),
		RunID:   "run-test",
	}
}
