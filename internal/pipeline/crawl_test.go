package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/pkg/renderer"
)

func seedVetted(t *testing.T, st *memStore, externalID, homepage string) *model.Venue {
	t.Helper()
	v := seedPending(t, st, externalID, homepage, nil)
	require.NoError(t, st.SetPrevet(context.Background(), v.ID, model.PrevetYes, nil))
	return v
}

func TestCrawlStage_AssemblesDocumentBreadthFirst(t *testing.T) {
	const home = "https://elmswood.example.com"

	st := newMemStore()
	v := seedVetted(t, st, "node/1", home)

	env := testEnv(t, st)
	env.Renderer = &mockRenderer{pages: map[string]*renderer.Page{
		home: {
			Markdown: "# Elmswood Manor",
			Links:    []string{"/weddings", "/contact", "https://facebook.com/elmswood"},
		},
		home + "/weddings": {
			Markdown: "## Weddings at Elmswood",
			Links:    []string{"/weddings/pricing"},
		},
		home + "/contact": {Markdown: "## Contact"},
		home + "/weddings/pricing": {Markdown: "## Pricing"},
	}}

	result, err := (&CrawlStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	got, _ := st.GetVenue(context.Background(), v.ID)
	doc := got.Document

	// Off-site link never rendered.
	assert.NotContains(t, doc, "facebook.com")

	// Chunks are tagged with source and depth, breadth-first. The homepage
	// is depth 1.
	assert.Contains(t, doc, fmt.Sprintf("<!-- source: %s depth: 1 -->", home))
	assert.Contains(t, doc, fmt.Sprintf("<!-- source: %s/weddings depth: 2 -->", home))
	assert.Contains(t, doc, fmt.Sprintf("<!-- source: %s/weddings/pricing depth: 3 -->", home))
	assert.Less(t,
		strings.Index(doc, "depth: 1"),
		strings.Index(doc, "depth: 2"),
	)
	assert.Contains(t, doc, "# Elmswood Manor")
	assert.Contains(t, doc, "## Pricing")
}

func TestCrawlStage_DepthBound(t *testing.T) {
	const home = "https://deep.example.com"

	st := newMemStore()
	seedVetted(t, st, "node/1", home)

	// A chain of pages each linking one level deeper.
	pages := map[string]*renderer.Page{home: {Markdown: "d0", Links: []string{"/1"}}}
	for i := 1; i <= 6; i++ {
		pages[fmt.Sprintf("%s/%d", home, i)] = &renderer.Page{
			Markdown: fmt.Sprintf("d%d", i),
			Links:    []string{fmt.Sprintf("/%d", i+1)},
		}
	}

	env := testEnv(t, st)
	env.Cfg.Crawl.MaxDepth = 3
	mock := &mockRenderer{pages: pages}
	env.Renderer = mock

	_, err := (&CrawlStage{}).Run(context.Background(), env)
	require.NoError(t, err)

	// Homepage (depth 1) plus two more levels; depth 4 never requested.
	assert.Len(t, mock.calls, 3)
	assert.NotContains(t, mock.calls, home+"/3")
}

func TestCrawlStage_LinkCapPerPage(t *testing.T) {
	const home = "https://wide.example.com"

	st := newMemStore()
	seedVetted(t, st, "node/1", home)

	var links []string
	pages := map[string]*renderer.Page{}
	for i := 0; i < 25; i++ {
		path := fmt.Sprintf("/p%d", i)
		links = append(links, path)
		pages[home+path] = &renderer.Page{Markdown: fmt.Sprintf("p%d", i)}
	}
	pages[home] = &renderer.Page{Markdown: "home", Links: links}

	env := testEnv(t, st)
	env.Cfg.Crawl.MaxLinksPerPage = 10
	mock := &mockRenderer{pages: pages}
	env.Renderer = mock

	_, err := (&CrawlStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Len(t, mock.calls, 11) // homepage + 10 links
}

func TestCrawlStage_HomepageRenderFailureReported(t *testing.T) {
	const home = "https://down.example.com"

	st := newMemStore()
	v := seedVetted(t, st, "node/1", home)

	env := testEnv(t, st)
	env.Renderer = &mockRenderer{errs: map[string]error{home: errors.New("render: status 500")}}

	result, err := (&CrawlStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got, _ := st.GetVenue(context.Background(), v.ID)
	assert.Empty(t, got.Document)
	require.Len(t, st.errs, 1)
	assert.Equal(t, "crawl", st.errs[0].Stage)
	assert.Equal(t, v.ID, st.errs[0].VenueID)
}

func TestCrawlStage_SubpageFailureSkipped(t *testing.T) {
	const home = "https://flaky.example.com"

	st := newMemStore()
	v := seedVetted(t, st, "node/1", home)

	env := testEnv(t, st)
	env.Renderer = &mockRenderer{
		pages: map[string]*renderer.Page{
			home:         {Markdown: "home", Links: []string{"/ok", "/broken"}},
			home + "/ok": {Markdown: "ok page"},
		},
		errs: map[string]error{home + "/broken": errors.New("render: timeout")},
	}

	result, err := (&CrawlStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	got, _ := st.GetVenue(context.Background(), v.ID)
	assert.Contains(t, got.Document, "ok page")
}

func TestCrawlStage_SkipsCrawledAndHomepageless(t *testing.T) {
	st := newMemStore()
	noHome := seedVetted(t, st, "node/1", "")
	crawled := seedVetted(t, st, "node/2", "https://done.example.com")
	require.NoError(t, st.SetDocument(context.Background(), crawled.ID, "existing doc"))

	env := testEnv(t, st)
	env.Renderer = &mockRenderer{}

	result, err := (&CrawlStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Processed)

	got, _ := st.GetVenue(context.Background(), noHome.ID)
	assert.Empty(t, got.Document)
}

func TestNormalizeLink(t *testing.T) {
	base := mustParse(t, "https://venue.example.com/about")

	link, ok := normalizeLink(base, "/weddings#gallery")
	require.True(t, ok)
	assert.Equal(t, "https://venue.example.com/weddings", link)

	_, ok = normalizeLink(base, "https://other.example.com/")
	assert.False(t, ok)

	_, ok = normalizeLink(base, "mailto:events@venue.example.com")
	assert.False(t, ok)

	_, ok = normalizeLink(base, "tel:+441234567890")
	assert.False(t, ok)

	_, ok = normalizeLink(base, "#top")
	assert.False(t, ok)
}
