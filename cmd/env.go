package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gatherstone/venuescout/internal/fetcher"
	"github.com/gatherstone/venuescout/internal/geo"
	"github.com/gatherstone/venuescout/internal/pipeline"
	"github.com/gatherstone/venuescout/internal/store"
	anthropicpkg "github.com/gatherstone/venuescout/pkg/anthropic"
	"github.com/gatherstone/venuescout/pkg/jina"
	"github.com/gatherstone/venuescout/pkg/overpass"
	"github.com/gatherstone/venuescout/pkg/renderer"
)

// resolveBounds turns the --bbox/--shapefile flags into a search area.
// Exactly one of the two must be set.
func resolveBounds(bbox, shapefile string) (*geom.Bounds, error) {
	switch {
	case bbox != "" && shapefile != "":
		return nil, eris.New("--bbox and --shapefile are mutually exclusive")
	case bbox != "":
		return geo.ParseBounds(bbox)
	case shapefile != "":
		return geo.BBoxFromShapefile(shapefile)
	default:
		return nil, eris.New("one of --bbox or --shapefile is required")
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.Path
		if dsn == "" {
			dsn = "venuescout.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates the config for mode, opens the store, and builds the
// shared stage environment. Callers should defer env.Store.Close().
func initEnv(ctx context.Context, mode string) (*pipeline.Env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	overpassClient := overpass.NewClient(
		overpass.WithEndpoints(cfg.Overpass.Endpoints),
		overpass.WithRateLimit(rate.Every(time.Duration(cfg.Overpass.MinDelaySecs)*time.Second), 1),
		overpass.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Overpass.TimeoutSecs) * time.Second}),
	)

	rendererClient := renderer.NewClient(cfg.Renderer.BaseURL,
		renderer.WithFilter(renderer.FilterConfig{
			Threshold:    cfg.Renderer.FilterThreshold,
			MinWordCount: cfg.Renderer.MinWordCount,
		}),
		renderer.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Renderer.TimeoutMS) * time.Millisecond}),
	)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	jinaClient := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))

	return &pipeline.Env{
		Cfg:       cfg,
		Store:     st,
		Overpass:  overpassClient,
		Renderer:  rendererClient,
		Anthropic: anthropicClient,
		Jina:      jinaClient,
		Fetcher:   fetcher.New(fetcherOptions()),
	}, nil
}

// fetcherOptions maps the prevet config onto the homepage fetcher.
func fetcherOptions() fetcher.Options {
	return fetcher.Options{
		Timeout: time.Duration(cfg.Prevet.TimeoutSecs) * time.Second,
	}
}

// runStages executes the given stages under a fresh pipeline run record.
func runStages(ctx context.Context, env *pipeline.Env, stages ...pipeline.Stage) error {
	run, err := pipeline.NewScheduler(env, stages...).Run(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
	)
	return nil
}
