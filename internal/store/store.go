// Package store persists venues, the tile ledger, and pipeline run history.
// Two backends are provided: SQLite for single-machine runs and Postgres for
// shared deployments.
package store

import (
	"context"

	"github.com/gatherstone/venuescout/internal/model"
)

// VenueFilter specifies criteria for listing venues.
type VenueFilter struct {
	PrevetStatus model.PrevetStatus `json:"prevet_status,omitempty"`
	ActiveOnly   bool               `json:"active_only,omitempty"`
	Limit        int                `json:"limit,omitempty"`
	Offset       int                `json:"offset,omitempty"`
}

// Counts summarizes pipeline progress for the status command.
type Counts struct {
	Venues   int `json:"venues"`
	Tiles    int `json:"tiles"`
	Prevet   map[model.PrevetStatus]int
	Enriched int `json:"enriched"`
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Venues. UpsertVenue is keyed on external_id: a re-collected venue keeps
	// its id, prevet status, document, enrichment and images.
	UpsertVenue(ctx context.Context, v *model.Venue) (*model.Venue, error)
	GetVenue(ctx context.Context, id string) (*model.Venue, error)
	ListVenues(ctx context.Context, filter VenueFilter) ([]model.Venue, error)
	SetPrevet(ctx context.Context, id string, status model.PrevetStatus, keywords []string) error
	SetDocument(ctx context.Context, id string, doc string) error
	SetEnrichment(ctx context.Context, id string, e model.Enrichment) error
	SetImageManifest(ctx context.Context, id string, m model.ImageManifest) error

	// Tile ledger. A recorded tile is never re-queried.
	HasTile(ctx context.Context, key string) (bool, error)
	RecordTile(ctx context.Context, key string, venueCount int) error

	// Pipeline runs and the append-only error log.
	CreateRun(ctx context.Context) (*model.PipelineRun, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, failedStage, errMsg string) error
	AppendError(ctx context.Context, pe model.ProcessingError) error
	ListErrors(ctx context.Context, runID string) ([]model.ProcessingError, error)

	// Status summary.
	Count(ctx context.Context) (*Counts, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
