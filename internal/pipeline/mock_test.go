package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
	"github.com/gatherstone/venuescout/pkg/anthropic"
	"github.com/gatherstone/venuescout/pkg/overpass"
	"github.com/gatherstone/venuescout/pkg/renderer"
)

// memStore is an in-memory store.Store for stage tests.
type memStore struct {
	mu     sync.Mutex
	nextID int
	venues map[string]*model.Venue
	byExt  map[string]string
	tiles  map[string]int
	runs   map[string]*model.PipelineRun
	errs   []model.ProcessingError
}

func newMemStore() *memStore {
	return &memStore{
		venues: make(map[string]*model.Venue),
		byExt:  make(map[string]string),
		tiles:  make(map[string]int),
		runs:   make(map[string]*model.PipelineRun),
	}
}

func (m *memStore) UpsertVenue(_ context.Context, v *model.Venue) (*model.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byExt[v.ExternalID]; ok {
		existing := m.venues[id]
		existing.Name = v.Name
		existing.Homepage = v.Homepage
		existing.Point = v.Point
		existing.Tags = v.Tags
		existing.Active = true
		existing.UpdatedAt = time.Now().UTC()
		cp := *existing
		return &cp, nil
	}

	m.nextID++
	stored := *v
	stored.ID = fmt.Sprintf("v-%d", m.nextID)
	stored.PrevetStatus = model.PrevetPending
	stored.Enrichment = model.DefaultEnrichment()
	stored.Active = true
	stored.UpdatedAt = time.Now().UTC()
	m.venues[stored.ID] = &stored
	m.byExt[stored.ExternalID] = stored.ID
	cp := stored
	return &cp, nil
}

func (m *memStore) GetVenue(_ context.Context, id string) (*model.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.venues[id]
	if !ok {
		return nil, fmt.Errorf("venue not found: %s", id)
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) ListVenues(_ context.Context, filter store.VenueFilter) ([]model.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Venue
	for _, v := range m.venues {
		if filter.PrevetStatus != "" && v.PrevetStatus != filter.PrevetStatus {
			continue
		}
		if filter.ActiveOnly && !v.Active {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) SetPrevet(_ context.Context, id string, status model.PrevetStatus, keywords []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.venues[id]
	if !ok {
		return fmt.Errorf("venue not found: %s", id)
	}
	now := time.Now().UTC()
	v.PrevetStatus = status
	v.MatchedKeywords = keywords
	v.PrevettedAt = &now
	return nil
}

func (m *memStore) SetDocument(_ context.Context, id string, doc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.venues[id]
	if !ok {
		return fmt.Errorf("venue not found: %s", id)
	}
	v.Document = doc
	return nil
}

func (m *memStore) SetEnrichment(_ context.Context, id string, e model.Enrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.venues[id]
	if !ok {
		return fmt.Errorf("venue not found: %s", id)
	}
	v.Enrichment = e
	return nil
}

func (m *memStore) SetImageManifest(_ context.Context, id string, im model.ImageManifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.venues[id]
	if !ok {
		return fmt.Errorf("venue not found: %s", id)
	}
	v.Images = im
	return nil
}

func (m *memStore) HasTile(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tiles[key]
	return ok, nil
}

func (m *memStore) RecordTile(_ context.Context, key string, venueCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tiles[key]; !ok {
		m.tiles[key] = venueCount
	}
	return nil
}

func (m *memStore) CreateRun(_ context.Context) (*model.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	run := &model.PipelineRun{
		ID:        fmt.Sprintf("run-%d", m.nextID),
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memStore) FinishRun(_ context.Context, runID string, status model.RunStatus, failedStage, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	now := time.Now().UTC()
	run.Status = status
	run.FailedStage = failedStage
	run.Error = errMsg
	run.FinishedAt = &now
	return nil
}

func (m *memStore) AppendError(_ context.Context, pe model.ProcessingError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pe.OccurredAt = time.Now().UTC()
	m.errs = append(m.errs, pe)
	return nil
}

func (m *memStore) ListErrors(_ context.Context, runID string) ([]model.ProcessingError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProcessingError
	for _, pe := range m.errs {
		if pe.RunID == runID {
			out = append(out, pe)
		}
	}
	return out, nil
}

func (m *memStore) Count(_ context.Context) (*store.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &store.Counts{
		Venues: len(m.venues),
		Tiles:  len(m.tiles),
		Prevet: make(map[model.PrevetStatus]int),
	}
	for _, v := range m.venues {
		c.Prevet[v.PrevetStatus]++
		if !v.Enrichment.IsDefault() {
			c.Enriched++
		}
	}
	return c, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

// mockOverpass returns canned elements per query.
type mockOverpass struct {
	fn func(ctx context.Context, ql string) (*overpass.Response, error)
}

func (m *mockOverpass) Query(ctx context.Context, ql string) (*overpass.Response, error) {
	return m.fn(ctx, ql)
}

// mockRenderer serves canned pages by URL.
type mockRenderer struct {
	mu    sync.Mutex
	pages map[string]*renderer.Page
	errs  map[string]error
	calls []string
}

func (m *mockRenderer) Render(_ context.Context, url string) (*renderer.Page, error) {
	m.mu.Lock()
	m.calls = append(m.calls, url)
	m.mu.Unlock()
	if err, ok := m.errs[url]; ok {
		return nil, err
	}
	if page, ok := m.pages[url]; ok {
		return page, nil
	}
	return nil, fmt.Errorf("render: unknown url %s", url)
}

// mockAnthropic replays scripted responses in order.
type mockAnthropic struct {
	mu       sync.Mutex
	requests []anthropic.MessageRequest
	replies  []string
	errs     []error
}

func (m *mockAnthropic) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.requests)
	m.requests = append(m.requests, req)

	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	reply := ""
	if i < len(m.replies) {
		reply = m.replies[i]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: reply}},
	}, nil
}

// mockJina scores images by URI content.
type mockJina struct {
	fn func(uri string, labels []string) ([]float64, error)
}

func (m *mockJina) Rank(_ context.Context, uri string, labels []string) ([]float64, error) {
	return m.fn(uri, labels)
}
