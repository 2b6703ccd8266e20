package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gatherstone/venuescout/internal/fetcher"
	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
)

// markdownImage matches markdown image references; group 1 is the URL.
var markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(\s*(\S+?)(?:\s+"[^"]*")?\s*\)`)

// ImagesStage extracts image URLs from each crawled document and downloads
// them into a per-venue gallery directory. Tiny files (icons, spacers,
// tracking pixels) are rejected by reported content length; downloads are
// idempotent because existing files are skipped.
type ImagesStage struct{}

func (s *ImagesStage) Name() string { return "images" }

func (s *ImagesStage) Run(ctx context.Context, env *Env) (*StageResult, error) {
	venues, err := listAll(ctx, env.Store, store.VenueFilter{PrevetStatus: model.PrevetYes, ActiveOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "images: list venues")
	}

	result := &StageResult{}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(env.Cfg.Images.Concurrency)

	for _, venue := range venues {
		g.Go(func() error {
			if venue.Document == "" || !venue.Images.Empty() {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}

			manifest := s.downloadGallery(gCtx, env, venue)
			if err := env.Store.SetImageManifest(gCtx, venue.ID, manifest); err != nil {
				return eris.Wrapf(err, "images: persist manifest %s", venue.ID)
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

func (s *ImagesStage) downloadGallery(ctx context.Context, env *Env, venue model.Venue) model.ImageManifest {
	now := time.Now().UTC()
	manifest := model.ImageManifest{ProcessedAt: &now}

	dir := filepath.Join(env.Cfg.Images.Dir, sanitizeID(venue.ExternalID))
	for _, imgURL := range ExtractImageURLs(venue.Document) {
		dest := filepath.Join(dir, imageFileName(imgURL))

		_, _, err := env.Fetcher.DownloadToFile(ctx, imgURL, dest, env.Cfg.Images.MinBytes)
		if errors.Is(err, fetcher.ErrTooSmall) {
			zap.L().Debug("images: rejected small image",
				zap.String("venue_id", venue.ID),
				zap.String("url", imgURL),
			)
			continue
		}
		if err != nil {
			env.ReportError(ctx, s.Name(), venue.ID, err)
			continue
		}
		manifest.Paths = append(manifest.Paths, dest)
	}
	return manifest
}

// ExtractImageURLs returns the deduplicated absolute http(s) image URLs
// referenced by the document's markdown, in order of first appearance.
func ExtractImageURLs(doc string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, m := range markdownImage.FindAllStringSubmatch(doc, -1) {
		raw := strings.TrimSpace(m[1])
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if seen[raw] {
			continue
		}
		seen[raw] = true
		urls = append(urls, raw)
	}
	return urls
}

// sanitizeID turns an external id like "node/123" into a directory name.
func sanitizeID(externalID string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(externalID)
}

// imageFileName derives a stable local filename from the image URL: a short
// content-address of the URL plus the original extension.
func imageFileName(imgURL string) string {
	sum := sha256.Sum256([]byte(imgURL))
	name := hex.EncodeToString(sum[:8])

	ext := ""
	if u, err := url.Parse(imgURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif":
	default:
		ext = ".jpg"
	}
	return name + ext
}
