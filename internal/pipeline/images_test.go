package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherstone/venuescout/internal/model"
)

func TestExtractImageURLs(t *testing.T) {
	doc := `# Venue

![hero](https://venue.example.com/hero.jpg)
Some text ![](https://venue.example.com/garden.png "The garden")
![dup](https://venue.example.com/hero.jpg)
![rel](/images/local.jpg)
![ftp](ftp://venue.example.com/old.jpg)
[not an image](https://venue.example.com/page)`

	urls := ExtractImageURLs(doc)
	assert.Equal(t, []string{
		"https://venue.example.com/hero.jpg",
		"https://venue.example.com/garden.png",
	}, urls)
}

func TestImageFileName_StableAndExtensionAware(t *testing.T) {
	a := imageFileName("https://venue.example.com/hero.jpg")
	b := imageFileName("https://venue.example.com/hero.jpg")
	c := imageFileName("https://venue.example.com/other.PNG")
	d := imageFileName("https://venue.example.com/dynamic?id=7")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, len(a) > 4)
	assert.Contains(t, a, ".jpg")
	assert.Contains(t, c, ".png")
	assert.Contains(t, d, ".jpg") // unknown extension defaults to jpg
}

func TestImagesStage_DownloadsGallery(t *testing.T) {
	payload := make([]byte, 4096)
	var serves int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serves++
		if r.URL.Path == "/tiny.gif" {
			w.Header().Set("Content-Length", "42")
			_, _ = w.Write(make([]byte, 42))
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer ts.Close()

	st := newMemStore()
	v := seedVetted(t, st, "node/1", "https://venue.example.com")
	doc := fmt.Sprintf("![a](%s/a.jpg)\n![b](%s/b.png)\n![tiny](%s/tiny.gif)", ts.URL, ts.URL, ts.URL)
	require.NoError(t, st.SetDocument(context.Background(), v.ID, doc))

	env := testEnv(t, st)
	result, err := (&ImagesStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	got, _ := st.GetVenue(context.Background(), v.ID)
	require.Len(t, got.Images.Paths, 2)
	assert.False(t, got.Images.Empty())
	assert.False(t, got.Images.LogoVerified)

	for _, p := range got.Images.Paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), info.Size())
	}
	// The undersized image was rejected, not recorded as an error.
	assert.Empty(t, st.errs)
}

func TestImagesStage_BrokenURLRecordedAndSkipped(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer ts.Close()

	st := newMemStore()
	v := seedVetted(t, st, "node/1", "https://venue.example.com")
	doc := fmt.Sprintf("![a](%s/ok.jpg)\n![b](%s/gone.jpg)", ts.URL, ts.URL)
	require.NoError(t, st.SetDocument(context.Background(), v.ID, doc))

	env := testEnv(t, st)
	result, err := (&ImagesStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	got, _ := st.GetVenue(context.Background(), v.ID)
	assert.Len(t, got.Images.Paths, 1)
	require.Len(t, st.errs, 1)
	assert.Equal(t, "images", st.errs[0].Stage)
}

func TestImagesStage_SkipsProcessedAndDocumentless(t *testing.T) {
	st := newMemStore()
	noDoc := seedVetted(t, st, "node/1", "https://a.example.com")

	done := seedVetted(t, st, "node/2", "https://b.example.com")
	require.NoError(t, st.SetDocument(context.Background(), done.ID, "![x](https://b.example.com/x.jpg)"))
	now := nowPtr()
	require.NoError(t, st.SetImageManifest(context.Background(), done.ID, model.ImageManifest{
		Paths:       []string{"images/node_2/old.jpg"},
		ProcessedAt: now,
	}))

	env := testEnv(t, st)
	result, err := (&ImagesStage{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Processed)

	got, _ := st.GetVenue(context.Background(), noDoc.ID)
	assert.True(t, got.Images.Empty())
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "node_123", sanitizeID("node/123"))
	assert.Equal(t, "way_9", sanitizeID("way/9"))
}
