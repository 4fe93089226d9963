package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nollettan-menu/models"
)

func openTestCache(t *testing.T) *LocalCache {
	t.Helper()
	c, err := OpenLocalCache(filepath.Join(t.TempDir(), "menu.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLocalCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	_, ok, err := c.Get(ctx, "nollettan-menu")
	require.NoError(t, err)
	assert.False(t, ok)

	m := models.Defaults()
	m.ID = "menu-1"
	m.Week = 7
	m.Pasta = m.Pasta[:2]
	require.NoError(t, c.Put(ctx, "nollettan-menu", m))

	got, ok, err := c.Get(ctx, "nollettan-menu")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m, got)

	m.Week = 8
	require.NoError(t, c.Put(ctx, "nollettan-menu", m))
	got, _, err = c.Get(ctx, "nollettan-menu")
	require.NoError(t, err)
	assert.Equal(t, 8, got.Week)
}

func TestLocalCacheMergesPartialBody(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	_, err := c.db.ExecContext(ctx, `INSERT INTO snapshots (key, body) VALUES (?, ?)`, "old", `{"week": 3}`)
	require.NoError(t, err)

	got, ok, err := c.Get(ctx, "old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Week)
	assert.Len(t, got.LunchIncluded, 5)
	assert.Len(t, got.WeeklyLunch, 5)
}

func TestLocalCacheCorruptBody(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	_, err := c.db.ExecContext(ctx, `INSERT INTO snapshots (key, body) VALUES (?, ?)`, "bad", `{oops`)
	require.NoError(t, err)

	got, ok, err := c.Get(ctx, "bad")
	require.Error(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.Defaults(), got)
}
