package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
)

// CrawlStage walks each vetted venue's site breadth-first through the render
// endpoint and assembles the page markdown into a single document. The crawl
// stays on the homepage's host, follows at most MaxLinksPerPage links per
// page, and stops at MaxDepth. Visited URLs are tracked per venue in memory;
// a venue's crawl is small enough that persisting frontier state buys
// nothing.
type CrawlStage struct{}

func (s *CrawlStage) Name() string { return "crawl" }

func (s *CrawlStage) Run(ctx context.Context, env *Env) (*StageResult, error) {
	venues, err := listAll(ctx, env.Store, store.VenueFilter{PrevetStatus: model.PrevetYes, ActiveOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "crawl: list vetted venues")
	}

	result := &StageResult{}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(env.Cfg.Crawl.Concurrency)

	for _, venue := range venues {
		g.Go(func() error {
			if venue.Homepage == "" || venue.Document != "" {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}

			doc, err := s.crawlVenue(gCtx, env, venue)
			if err != nil {
				env.ReportError(gCtx, s.Name(), venue.ID, err)
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return nil
			}

			if err := env.Store.SetDocument(gCtx, venue.ID, doc); err != nil {
				return eris.Wrapf(err, "crawl: persist document %s", venue.ID)
			}
			mu.Lock()
			result.Processed++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

type crawlItem struct {
	url   string
	depth int
}

func (s *CrawlStage) crawlVenue(ctx context.Context, env *Env, venue model.Venue) (string, error) {
	base, err := url.Parse(venue.Homepage)
	if err != nil {
		return "", eris.Wrapf(err, "crawl: parse homepage %s", venue.Homepage)
	}

	maxDepth := env.Cfg.Crawl.MaxDepth
	maxLinks := env.Cfg.Crawl.MaxLinksPerPage

	// The homepage is depth 1; with max_depth 3 the crawl spans exactly
	// three levels.
	seen := map[string]bool{venue.Homepage: true}
	queue := []crawlItem{{url: venue.Homepage, depth: 1}}
	var chunks []string

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "crawl: cancelled")
		}
		item := queue[0]
		queue = queue[1:]

		page, err := env.Renderer.Render(ctx, item.url)
		if err != nil {
			if item.depth == 1 {
				// No homepage, no document.
				return "", eris.Wrapf(err, "crawl: render homepage %s", item.url)
			}
			zap.L().Debug("crawl: render failed, skipping page",
				zap.String("venue_id", venue.ID),
				zap.String("url", item.url),
				zap.Error(err),
			)
			continue
		}

		if md := strings.TrimSpace(page.Markdown); md != "" {
			chunks = append(chunks, fmt.Sprintf("<!-- source: %s depth: %d -->\n\n%s", item.url, item.depth, md))
		}

		if item.depth >= maxDepth {
			continue
		}
		taken := 0
		for _, link := range page.Links {
			if taken >= maxLinks {
				break
			}
			normalized, ok := normalizeLink(base, link)
			if !ok || seen[normalized] {
				continue
			}
			seen[normalized] = true
			queue = append(queue, crawlItem{url: normalized, depth: item.depth + 1})
			taken++
		}
	}

	if len(chunks) == 0 {
		return "", eris.Errorf("crawl: no content rendered for %s", venue.Homepage)
	}
	return strings.Join(chunks, "\n\n"), nil
}

// normalizeLink resolves href against base and keeps only same-host
// http(s) links, with fragments stripped.
func normalizeLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") {
		return "", false
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	absolute := base.ResolveReference(parsed)
	if absolute.Scheme != "http" && absolute.Scheme != "https" {
		return "", false
	}
	if absolute.Host != base.Host {
		return "", false
	}
	absolute.Fragment = ""
	return absolute.String(), true
}
