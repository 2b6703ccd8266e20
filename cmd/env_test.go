package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherstone/venuescout/internal/config"
	"github.com/gatherstone/venuescout/internal/store"
)

func TestResolveBounds_BBox(t *testing.T) {
	bounds, err := resolveBounds("-1.5,51.9,-1.0,52.2", "")
	require.NoError(t, err)
	assert.InDelta(t, -1.5, bounds.Min(0), 1e-9)
	assert.InDelta(t, 51.9, bounds.Min(1), 1e-9)
	assert.InDelta(t, -1.0, bounds.Max(0), 1e-9)
	assert.InDelta(t, 52.2, bounds.Max(1), 1e-9)
}

func TestResolveBounds_Exclusive(t *testing.T) {
	_, err := resolveBounds("-1,51,0,52", "area.shp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestResolveBounds_Required(t *testing.T) {
	_, err := resolveBounds("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestFetcherOptions_UsesPrevetTimeout(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = &config.Config{}
	cfg.Prevet.TimeoutSecs = 7

	assert.Equal(t, 7*time.Second, fetcherOptions().Timeout)
}

func TestInitStore_Drivers(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "cli.db")

	st, err := initStore(context.Background())
	require.NoError(t, err)
	_, ok := st.(*store.SQLiteStore)
	assert.True(t, ok)
	require.NoError(t, st.Close())

	cfg.Store.Driver = "mysql"
	_, err = initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}
