// Package pipeline implements the venue ingestion stages and the scheduler
// that runs them in order: collect, prevet, crawl, images, enrich, verify.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/gatherstone/venuescout/internal/config"
	"github.com/gatherstone/venuescout/internal/fetcher"
	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
	"github.com/gatherstone/venuescout/pkg/anthropic"
	"github.com/gatherstone/venuescout/pkg/jina"
	"github.com/gatherstone/venuescout/pkg/overpass"
	"github.com/gatherstone/venuescout/pkg/renderer"
)

// Env bundles the shared dependencies every stage draws from.
type Env struct {
	Cfg       *config.Config
	Store     store.Store
	Overpass  overpass.Client
	Renderer  renderer.Client
	Anthropic anthropic.Client
	Jina      jina.Client
	Fetcher   *fetcher.HTTPFetcher

	// Bounds is the search area for the collect stage.
	Bounds *geom.Bounds

	// RunID tags per-venue errors with the owning pipeline run.
	RunID string
}

// ReportError records a per-venue failure without aborting the stage.
func (e *Env) ReportError(ctx context.Context, stage, venueID string, err error) {
	zap.L().Warn("pipeline: venue failed",
		zap.String("stage", stage),
		zap.String("venue_id", venueID),
		zap.Error(err),
	)
	if e.Store == nil {
		return
	}
	if storeErr := e.Store.AppendError(ctx, model.ProcessingError{
		RunID:   e.RunID,
		Stage:   stage,
		VenueID: venueID,
		Message: err.Error(),
	}); storeErr != nil {
		zap.L().Warn("pipeline: failed to record error", zap.Error(storeErr))
	}
}

// StageResult summarizes one stage's work.
type StageResult struct {
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Stage is one unit of pipeline work. A returned error is fatal for the whole
// run; per-venue problems go through Env.ReportError instead.
type Stage interface {
	Name() string
	Run(ctx context.Context, env *Env) (*StageResult, error)
}

// Scheduler runs stages sequentially and fail-fast: the first stage error
// aborts the run and is recorded with the stage name.
type Scheduler struct {
	env    *Env
	stages []Stage
}

// NewScheduler creates a Scheduler over the given stages.
func NewScheduler(env *Env, stages ...Stage) *Scheduler {
	return &Scheduler{env: env, stages: stages}
}

// Run executes all stages in order. The run record is finalized whether the
// run completes or fails.
func (s *Scheduler) Run(ctx context.Context) (*model.PipelineRun, error) {
	run, err := s.env.Store.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	s.env.RunID = run.ID

	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: run started", zap.Int("stages", len(s.stages)))

	for _, stage := range s.stages {
		start := time.Now()
		result, stageErr := stage.Run(ctx, s.env)
		duration := time.Since(start)

		if stageErr != nil {
			log.Error("pipeline: stage failed",
				zap.String("stage", stage.Name()),
				zap.Duration("duration", duration),
				zap.Error(stageErr),
			)
			wrapped := eris.Wrapf(stageErr, "pipeline: stage %s", stage.Name())
			if finErr := s.env.Store.FinishRun(ctx, run.ID, model.RunFailed, stage.Name(), wrapped.Error()); finErr != nil {
				log.Warn("pipeline: failed to finalize run", zap.Error(finErr))
			}
			run.Status = model.RunFailed
			run.FailedStage = stage.Name()
			run.Error = wrapped.Error()
			return run, wrapped
		}

		fields := []zap.Field{
			zap.String("stage", stage.Name()),
			zap.Duration("duration", duration),
		}
		if result != nil {
			fields = append(fields,
				zap.Int("processed", result.Processed),
				zap.Int("skipped", result.Skipped),
				zap.Int("failed", result.Failed),
			)
		}
		log.Info("pipeline: stage complete", fields...)
	}

	if err := s.env.Store.FinishRun(ctx, run.ID, model.RunComplete, "", ""); err != nil {
		log.Warn("pipeline: failed to finalize run", zap.Error(err))
	}
	run.Status = model.RunComplete
	log.Info("pipeline: run complete")
	return run, nil
}

// AllStages returns the full stage sequence in execution order.
func AllStages() []Stage {
	return []Stage{
		&CollectStage{},
		&PrevetStage{},
		&CrawlStage{},
		&ImagesStage{},
		&EnrichStage{},
		&VerifyStage{},
	}
}
