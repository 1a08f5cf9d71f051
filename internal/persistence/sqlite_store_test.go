package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/subsync/internal/cache"
	"github.com/MimeLyc/subsync/internal/highlight"
	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

var (
	_ cache.Store     = (*SQLiteStore)(nil)
	_ highlight.Store = (*SQLiteStore)(nil)
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "subsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_EntryRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	conf := 0.9
	now := time.Now().UTC().Truncate(time.Millisecond)
	entry := cache.Entry{
		VideoID: "V1",
		Segments: []subtitle.Segment{
			{ID: "subtitle-0", VideoID: "V1", StartTime: 0, EndTime: 5, Text: "hi", Source: subtitle.SourceSpeech, Confidence: &conf},
			{ID: "subtitle-1", VideoID: "V1", StartTime: 5, EndTime: 10, Text: "there", Index: 1, Source: subtitle.SourceSpeech},
		},
		Source:    subtitle.SourceSpeech,
		Language:  language.English,
		CachedAt:  now,
		ExpiresAt: now.Add(cache.DefaultTTL),
	}
	require.NoError(t, store.PutEntry(ctx, entry))

	got, ok, err := store.GetEntry(ctx, "V1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Segments, got.Segments)
	assert.Equal(t, subtitle.SourceSpeech, got.Source)
	assert.Equal(t, language.English, got.Language)
	assert.True(t, entry.ExpiresAt.Equal(got.ExpiresAt))
	assert.True(t, entry.CachedAt.Equal(got.CachedAt))

	_, ok, err = store.GetEntry(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_ExpiryIndexQueries(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	put := func(id string, expiresAt time.Time) {
		require.NoError(t, store.PutEntry(ctx, cache.Entry{
			VideoID:   id,
			Segments:  []subtitle.Segment{{ID: "subtitle-0", StartTime: 0, EndTime: 1, Text: "x"}},
			Source:    subtitle.SourceSpeech,
			Language:  language.Und,
			CachedAt:  now,
			ExpiresAt: expiresAt,
		}))
	}
	put("expired-1", now.Add(-time.Hour))
	put("expired-2", now)
	put("fresh", now.Add(time.Hour))

	total, expired, err := store.CountEntries(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, expired)

	n, err := store.DeleteExpiredEntries(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	total, expired, err = store.CountEntries(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, expired)

	require.NoError(t, store.DeleteAllEntries(ctx))
	total, _, err = store.CountEntries(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSQLiteStore_BacksSubtitleCache(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	c := cache.New(ctx, store)
	require.True(t, c.Available())

	c.Put(ctx, cache.Entry{
		VideoID: "V1",
		Segments: subtitle.Parse("V1", []subtitle.RawItem{
			{From: 0, To: 5, Content: "hi"},
		}, subtitle.SourceSpeech),
		Source:   subtitle.SourceSpeech,
		Language: language.Japanese,
	})

	got := c.Get(ctx, "V1")
	require.NotNil(t, got)
	assert.Equal(t, "hi", got.Segments[0].Text)
	assert.Equal(t, language.Japanese, got.Language)
	assert.Equal(t, cache.Stats{TotalEntries: 1}, c.Stats(ctx))
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "subsync.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.MarkSegment(ctx, "V1", "subtitle-3"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	ids, err := reopened.MarkedSegments(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, []string{"subtitle-3"}, ids)
}

func TestSQLiteStore_Highlights(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	svc := highlight.NewService(store)

	marked, err := svc.Toggle(ctx, "V1", "subtitle-0")
	require.NoError(t, err)
	assert.True(t, marked)
	require.NoError(t, svc.Mark(ctx, "V1", "subtitle-2"))
	require.NoError(t, svc.Mark(ctx, "V1", "subtitle-2"))
	require.NoError(t, svc.Mark(ctx, "V2", "subtitle-0"))

	ids, err := svc.Marked(ctx, "V1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"subtitle-0", "subtitle-2"}, ids)

	marked, err = svc.Toggle(ctx, "V1", "subtitle-0")
	require.NoError(t, err)
	assert.False(t, marked)

	require.NoError(t, svc.Clear(ctx, "V1"))
	ids, err = svc.Marked(ctx, "V1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = svc.Marked(ctx, "V2")
	require.NoError(t, err)
	assert.Equal(t, []string{"subtitle-0"}, ids)

	_, err = svc.Marked(ctx, " ")
	assert.Error(t, err)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("012_x.sql"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}
