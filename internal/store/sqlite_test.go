package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baybio/biodex/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "biodex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestOpen_WALMode(t *testing.T) {
	s := newTestStore(t)
	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestCacheKey_Stable(t *testing.T) {
	a := CacheKey("text_search", "Acme Bio Berkeley")
	b := CacheKey("text_search", "Acme Bio Berkeley")
	c := CacheKey("text_search", "Acme Bio Oakland")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// The separator keeps concatenation ambiguity out of the key space.
	assert.NotEqual(t, CacheKey("ab", "c"), CacheKey("a", "bc"))
}

func TestLookupCache_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := CacheKey("text_search", "Acme Bio")

	_, hit, err := s.CachedLookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, s.PutLookup(ctx, key, []byte(`[{"place_id":"p1"}]`), time.Hour))

	payload, hit, err := s.CachedLookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `[{"place_id":"p1"}]`, string(payload))
}

func TestLookupCache_StaleEntryIsAMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := CacheKey("text_search", "Stale Co")

	require.NoError(t, s.PutLookup(ctx, key, []byte(`[]`), -time.Hour))

	_, hit, err := s.CachedLookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)

	n, err := s.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLookupCache_Replace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := CacheKey("details", "p1")

	require.NoError(t, s.PutLookup(ctx, key, []byte(`"old"`), time.Hour))
	require.NoError(t, s.PutLookup(ctx, key, []byte(`"new"`), time.Hour))

	payload, hit, err := s.CachedLookup(ctx, key)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, `"new"`, string(payload))
}

func TestCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp, err := s.GetCheckpoint(ctx, "rec-1", "enrich")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, s.SaveCheckpoint(ctx, model.Checkpoint{
		RecordID: "rec-1",
		Phase:    "enrich",
		Data:     []byte(`{"accepted":true}`),
	}))

	cp, err = s.GetCheckpoint(ctx, "rec-1", "enrich")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.JSONEq(t, `{"accepted":true}`, string(cp.Data))

	// Re-saving replaces.
	require.NoError(t, s.SaveCheckpoint(ctx, model.Checkpoint{
		RecordID: "rec-1",
		Phase:    "enrich",
		Data:     []byte(`{"accepted":false}`),
	}))
	cp, err = s.GetCheckpoint(ctx, "rec-1", "enrich")
	require.NoError(t, err)
	assert.JSONEq(t, `{"accepted":false}`, string(cp.Data))

	require.NoError(t, s.ClearCheckpoints(ctx))
	cp, err = s.GetCheckpoint(ctx, "rec-1", "enrich")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestRunLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	id, err := s.StartRun(ctx)
	require.NoError(t, err)

	latest, err = s.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, "running", latest.Status)
	assert.Nil(t, latest.FinishedAt)

	require.NoError(t, s.FinishRun(ctx, id, "complete", "promoted=12 review=3"))

	latest, err = s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "complete", latest.Status)
	assert.Equal(t, "promoted=12 review=3", latest.Summary)
	assert.NotNil(t, latest.FinishedAt)
}

func TestFinishRun_UnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.FinishRun(context.Background(), "nope", "complete", "")
	assert.Error(t, err)
}
