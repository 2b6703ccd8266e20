package pipeline

import (
	"context"
	"encoding/base64"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
)

// Candidate labels scored against each image. Deletion requires the logo
// label to both clear the threshold and beat the photo label.
const (
	logoLabel  = "a business logo, watermark, or text graphic"
	photoLabel = "a photograph of a place, building, or landscape"
)

// VerifyStage scores each downloaded image against logo/photo labels and
// deletes confident logo matches from the gallery. Scoring errors fail open:
// an image the ranker cannot judge is kept.
type VerifyStage struct{}

func (s *VerifyStage) Name() string { return "verify" }

func (s *VerifyStage) Run(ctx context.Context, env *Env) (*StageResult, error) {
	venues, err := listAll(ctx, env.Store, store.VenueFilter{PrevetStatus: model.PrevetYes, ActiveOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "verify: list venues")
	}

	result := &StageResult{}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(env.Cfg.Filter.Concurrency)

	for _, venue := range venues {
		g.Go(func() error {
			if venue.Images.Empty() || venue.Images.LogoVerified {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}

			manifest, removed := s.filterGallery(gCtx, env, venue)
			if err := env.Store.SetImageManifest(gCtx, venue.ID, manifest); err != nil {
				return eris.Wrapf(err, "verify: persist manifest %s", venue.ID)
			}

			mu.Lock()
			result.Processed++
			if md, ok := result.Metadata["images_removed"].(int); ok {
				result.Metadata["images_removed"] = md + removed
			} else {
				if result.Metadata == nil {
					result.Metadata = map[string]any{}
				}
				result.Metadata["images_removed"] = removed
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func (s *VerifyStage) filterGallery(ctx context.Context, env *Env, venue model.Venue) (model.ImageManifest, int) {
	now := time.Now().UTC()
	manifest := venue.Images
	manifest.LogoVerified = true
	manifest.VerifiedAt = &now

	var kept []string
	removed := 0

	for _, path := range venue.Images.Paths {
		uri, err := fileDataURI(path)
		if os.IsNotExist(eris.Cause(err)) {
			// Deleted out of band; drop the dangling manifest entry.
			removed++
			continue
		}
		if err != nil {
			env.ReportError(ctx, s.Name(), venue.ID, err)
			kept = append(kept, path)
			continue
		}

		scores, err := env.Jina.Rank(ctx, uri, []string{logoLabel, photoLabel})
		if err != nil {
			env.ReportError(ctx, s.Name(), venue.ID, err)
			kept = append(kept, path)
			continue
		}

		logoScore, photoScore := scores[0], scores[1]
		if logoScore > env.Cfg.Filter.LogoThreshold && logoScore > photoScore {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				env.ReportError(ctx, s.Name(), venue.ID, eris.Wrapf(err, "verify: remove %s", path))
				kept = append(kept, path)
				continue
			}
			zap.L().Debug("verify: removed logo image",
				zap.String("venue_id", venue.ID),
				zap.String("path", path),
				zap.Float64("logo_score", logoScore),
				zap.Float64("photo_score", photoScore),
			)
			removed++
			continue
		}
		kept = append(kept, path)
	}

	manifest.Paths = kept
	return manifest, removed
}

// fileDataURI reads an image file into a base64 data URI for the ranking API.
func fileDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "verify: read %s", path)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
