package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	ts := httptest.NewServer(NewServer(st).Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]string
	code := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestListVenues(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	a, err := st.UpsertVenue(ctx, &model.Venue{ExternalID: "node/1", Name: "Elmswood Manor"})
	require.NoError(t, err)
	require.NoError(t, st.SetPrevet(ctx, a.ID, model.PrevetYes, []string{"wedding venue"}))

	_, err = st.UpsertVenue(ctx, &model.Venue{ExternalID: "node/2", Name: "Riverside Hall"})
	require.NoError(t, err)

	var body struct {
		Venues []model.Venue `json:"venues"`
		Count  int           `json:"count"`
	}

	code := getJSON(t, ts.URL+"/v1/venues", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, body.Count)

	code = getJSON(t, ts.URL+"/v1/venues?status=yes", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "Elmswood Manor", body.Venues[0].Name)
}

func TestListVenues_BadParams(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/v1/venues?status=maybe", &body))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/v1/venues?limit=0", &body))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/v1/venues?limit=5000", &body))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/v1/venues?offset=-1", &body))
}

func TestGetVenue(t *testing.T) {
	ts, st := newTestServer(t)

	v, err := st.UpsertVenue(context.Background(), &model.Venue{ExternalID: "node/1", Name: "Elmswood Manor"})
	require.NoError(t, err)

	var got model.Venue
	code := getJSON(t, ts.URL+"/v1/venues/"+v.ID, &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "node/1", got.ExternalID)

	var errBody map[string]string
	code = getJSON(t, ts.URL+"/v1/venues/nope", &errBody)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusEndpoint(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	_, err := st.UpsertVenue(ctx, &model.Venue{ExternalID: "node/1", Name: "Elmswood Manor"})
	require.NoError(t, err)
	require.NoError(t, st.RecordTile(ctx, "t_52.0000_-1.0000_52.0500_-0.9500", 1))

	var counts store.Counts
	code := getJSON(t, ts.URL+"/v1/status", &counts)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, counts.Venues)
	assert.Equal(t, 1, counts.Tiles)
}

func TestListRunErrors(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, st.AppendError(ctx, model.ProcessingError{
		RunID: run.ID, Stage: "crawl", VenueID: "v-1", Message: "render timeout",
	}))

	var body struct {
		Errors []model.ProcessingError `json:"errors"`
		Count  int                     `json:"count"`
	}
	code := getJSON(t, ts.URL+"/v1/runs/"+run.ID+"/errors", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "crawl", body.Errors[0].Stage)

	code = getJSON(t, ts.URL+"/v1/runs/none/errors", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, body.Count)
}
