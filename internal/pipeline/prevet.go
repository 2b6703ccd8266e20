package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
)

// PrevetStage fetches each pending venue's homepage and buckets it by keyword
// evidence in the page's salient text (title, meta description, headings).
// Two or more keyword hits (or a strong tag signal) is a yes, one hit needs
// confirmation, zero is a no. An unreachable homepage also lands in
// needs_confirmation: absence of evidence is not evidence of absence. Venues
// without a homepage are left pending.
type PrevetStage struct{}

func (s *PrevetStage) Name() string { return "prevet" }

func (s *PrevetStage) Run(ctx context.Context, env *Env) (*StageResult, error) {
	keywords, err := LoadKeywords(env.Cfg.Prevet.KeywordsFile)
	if err != nil {
		return nil, err
	}

	venues, err := listAll(ctx, env.Store, store.VenueFilter{PrevetStatus: model.PrevetPending})
	if err != nil {
		return nil, eris.Wrap(err, "prevet: list pending venues")
	}

	result := &StageResult{}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(env.Cfg.Prevet.Concurrency)

	for _, venue := range venues {
		if venue.Homepage == "" {
			// Nothing to vet yet. The venue stays pending so a homepage
			// picked up by a later collect pass still gets vetted.
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			status, matched := s.vetVenue(gCtx, env, venue, keywords)

			if err := env.Store.SetPrevet(gCtx, venue.ID, status, matched); err != nil {
				return eris.Wrapf(err, "prevet: persist %s", venue.ID)
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

func (s *PrevetStage) vetVenue(ctx context.Context, env *Env, venue model.Venue, keywords []string) (model.PrevetStatus, []string) {
	strongTags := tagHeuristic(venue.Tags)

	body, err := env.Fetcher.Get(ctx, venue.Homepage)
	if err != nil {
		zap.L().Debug("prevet: homepage fetch failed",
			zap.String("venue_id", venue.ID),
			zap.String("homepage", venue.Homepage),
			zap.Error(err),
		)
		env.ReportError(ctx, s.Name(), venue.ID, err)
		return model.PrevetNeedsConfirmation, nil
	}

	salient, err := salientText(body)
	if err != nil {
		env.ReportError(ctx, s.Name(), venue.ID, err)
		return model.PrevetNeedsConfirmation, nil
	}

	matched := matchKeywords(salient, keywords)
	switch {
	case len(matched) >= 2 || strongTags:
		return model.PrevetYes, matched
	case len(matched) == 1:
		return model.PrevetNeedsConfirmation, matched
	default:
		return model.PrevetNo, nil
	}
}

// listAll pages through ListVenues until the filter is exhausted.
func listAll(ctx context.Context, st store.Store, filter store.VenueFilter) ([]model.Venue, error) {
	const pageSize = 500
	filter.Limit = pageSize

	var all []model.Venue
	for {
		page, err := st.ListVenues(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		filter.Offset += pageSize
	}
}
