package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherstone/venuescout/internal/model"
)

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte("fake image bytes"), 0o644))
	return path
}

func seedWithGallery(t *testing.T, st *memStore, paths []string) *model.Venue {
	t.Helper()
	v := seedVetted(t, st, "node/1", "https://venue.example.com")
	require.NoError(t, st.SetImageManifest(context.Background(), v.ID, model.ImageManifest{
		Paths:       paths,
		ProcessedAt: nowPtr(),
	}))
	return v
}

func TestVerifyStage_DeletesConfidentLogos(t *testing.T) {
	dir := t.TempDir()
	logo := writeImage(t, dir, "logo.png")
	photo := writeImage(t, dir, "photo.jpg")

	st := newMemStore()
	v := seedWithGallery(t, st, []string{logo, photo})

	env := testEnv(t, st)
	env.Jina = &mockJina{fn: func(uri string, labels []string) ([]float64, error) {
		require.Len(t, labels, 2)
		assert.True(t, strings.HasPrefix(uri, "data:image/"))
		// First venue image is a logo, second a photo.
		if strings.Contains(uri, "image/png") {
			return []float64{0.93, 0.20}, nil
		}
		return []float64{0.10, 0.88}, nil
	}}

	result, err := (&VerifyStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Metadata["images_removed"])

	got, _ := st.GetVenue(context.Background(), v.ID)
	assert.Equal(t, []string{photo}, got.Images.Paths)
	assert.True(t, got.Images.LogoVerified)
	assert.NotNil(t, got.Images.VerifiedAt)

	_, statErr := os.Stat(logo)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(photo)
	assert.NoError(t, statErr)
}

func TestVerifyStage_ThresholdAndMarginBothRequired(t *testing.T) {
	dir := t.TempDir()
	borderline := writeImage(t, dir, "borderline.jpg")
	logoish := writeImage(t, dir, "logoish.jpg")

	st := newMemStore()
	v := seedWithGallery(t, st, []string{borderline, logoish})

	scores := map[string][]float64{
		// Above threshold but photo scores higher: keep.
		borderline: {0.88, 0.91},
		// Beats photo but below threshold: keep.
		logoish: {0.80, 0.30},
	}
	var i int
	order := []string{borderline, logoish}
	env := testEnv(t, st)
	env.Jina = &mockJina{fn: func(string, []string) ([]float64, error) {
		s := scores[order[i]]
		i++
		return s, nil
	}}

	_, err := (&VerifyStage{}).Run(context.Background(), env)
	require.NoError(t, err)

	got, _ := st.GetVenue(context.Background(), v.ID)
	assert.Equal(t, []string{borderline, logoish}, got.Images.Paths)
}

func TestVerifyStage_RankErrorFailsOpen(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir, "img.jpg")

	st := newMemStore()
	v := seedWithGallery(t, st, []string{img})

	env := testEnv(t, st)
	env.Jina = &mockJina{fn: func(string, []string) ([]float64, error) {
		return nil, errors.New("jina: status 503")
	}}

	result, err := (&VerifyStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	got, _ := st.GetVenue(context.Background(), v.ID)
	assert.Equal(t, []string{img}, got.Images.Paths)
	assert.True(t, got.Images.LogoVerified)

	require.Len(t, st.errs, 1)
	assert.Equal(t, "verify", st.errs[0].Stage)
}

func TestVerifyStage_PrunesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir, "img.jpg")
	missing := filepath.Join(dir, "deleted.jpg")

	st := newMemStore()
	v := seedWithGallery(t, st, []string{img, missing})

	env := testEnv(t, st)
	env.Jina = &mockJina{fn: func(string, []string) ([]float64, error) {
		return []float64{0.1, 0.9}, nil
	}}

	_, err := (&VerifyStage{}).Run(context.Background(), env)
	require.NoError(t, err)

	got, _ := st.GetVenue(context.Background(), v.ID)
	assert.Equal(t, []string{img}, got.Images.Paths)
}

func TestVerifyStage_SkipsVerifiedAndEmpty(t *testing.T) {
	st := newMemStore()

	// Never processed by the images stage.
	seedVetted(t, st, "node/1", "https://a.example.com")

	// Already verified.
	verified := seedVetted(t, st, "node/2", "https://b.example.com")
	require.NoError(t, st.SetImageManifest(context.Background(), verified.ID, model.ImageManifest{
		Paths:        []string{"images/node_2/a.jpg"},
		LogoVerified: true,
		ProcessedAt:  nowPtr(),
	}))

	env := testEnv(t, st)
	env.Jina = &mockJina{fn: func(string, []string) ([]float64, error) {
		t.Fatal("rank should not be called")
		return nil, nil
	}}

	result, err := (&VerifyStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
}
