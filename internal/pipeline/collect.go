package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/tiles"
	"github.com/gatherstone/venuescout/pkg/overpass"
)

// CollectStage queries Overpass tile by tile and upserts the discovered
// venues. Tiles already in the ledger are skipped, so an interrupted run
// resumes where it stopped. Tiles run sequentially: Overpass mirrors are a
// shared public resource and the client already rate-limits per endpoint.
type CollectStage struct{}

func (s *CollectStage) Name() string { return "collect" }

func (s *CollectStage) Run(ctx context.Context, env *Env) (*StageResult, error) {
	if env.Bounds == nil || env.Bounds.IsEmpty() {
		return nil, eris.New("collect: no search area configured")
	}

	grid, err := tiles.Grid(env.Bounds, env.Cfg.Collect.TileSizeDeg)
	if err != nil {
		return nil, eris.Wrap(err, "collect: build grid")
	}
	zap.L().Info("collect: grid built",
		zap.Int("tiles", len(grid)),
		zap.Float64("tile_size_deg", env.Cfg.Collect.TileSizeDeg),
	)

	result := &StageResult{}
	for _, tile := range grid {
		if ctx.Err() != nil {
			return result, eris.Wrap(ctx.Err(), "collect: cancelled")
		}

		done, err := env.Store.HasTile(ctx, tile.Key())
		if err != nil {
			return result, eris.Wrap(err, "collect: check tile ledger")
		}
		if done {
			result.Skipped++
			continue
		}

		count, err := s.collectTile(ctx, env, tile)
		if err != nil {
			// A failed tile is not recorded; the next run retries it. The
			// sweep moves on so one bad tile cannot sink the whole area.
			env.ReportError(ctx, s.Name(), "", eris.Wrapf(err, "collect: tile %s", tile.Key()))
			result.Failed++
			continue
		}

		if err := env.Store.RecordTile(ctx, tile.Key(), count); err != nil {
			return result, eris.Wrap(err, "collect: record tile")
		}
		result.Processed++
	}

	result.Metadata = map[string]any{"tiles_total": len(grid)}
	return result, nil
}

func (s *CollectStage) collectTile(ctx context.Context, env *Env, tile tiles.Tile) (int, error) {
	ql := overpass.BoundsQuery(env.Cfg.Collect.Selectors, tile.MinLat, tile.MinLon, tile.MaxLat, tile.MaxLon)
	resp, err := env.Overpass.Query(ctx, ql)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, el := range resp.Elements {
		lat, lon, ok := el.Coordinates()
		if !ok {
			continue
		}
		tags := model.Tags(el.Tags)
		name := tags.Name()
		if name == "" {
			// Unnamed elements cannot be vetted or enriched.
			continue
		}

		venue := &model.Venue{
			ExternalID: el.ExternalID(),
			Name:       name,
			Homepage:   tags.Website(),
			Point:      model.Point{Lat: lat, Lon: lon},
			Tags:       tags,
		}
		if _, err := env.Store.UpsertVenue(ctx, venue); err != nil {
			return count, eris.Wrapf(err, "upsert %s", el.ExternalID())
		}
		count++
	}

	zap.L().Debug("collect: tile done",
		zap.String("tile", tile.Key()),
		zap.Int("venues", count),
	)
	return count, nil
}
