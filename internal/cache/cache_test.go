package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestCache(t *testing.T) (*SubtitleCache, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New(context.Background(), store, WithClock(clock.Now))
	require.True(t, c.Available())
	return c, store, clock
}

func sampleEntry(videoID string) Entry {
	return Entry{
		VideoID: videoID,
		Segments: subtitle.Parse(videoID, []subtitle.RawItem{
			{From: 0, To: 5, Content: "hi"},
			{From: 5, To: 10, Content: "there"},
		}, subtitle.SourceSpeech),
		Source:   subtitle.SourceSpeech,
		Language: language.English,
	}
}

func TestSubtitleCache_PutGetRoundTrip(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, sampleEntry("V1"))

	got := c.Get(ctx, "V1")
	require.NotNil(t, got)
	assert.Equal(t, sampleEntry("V1").Segments, got.Segments)
	assert.Equal(t, clock.now, got.CachedAt)
	assert.Equal(t, clock.now.Add(DefaultTTL), got.ExpiresAt)
	assert.Equal(t, language.English, got.Language)
}

func TestSubtitleCache_PutOverwritesAndRestamps(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, sampleEntry("V1"))
	clock.Advance(time.Hour)

	next := sampleEntry("V1")
	next.Segments = next.Segments[:1]
	next.ExpiresAt = clock.now.Add(-time.Hour) // ignored, Put stamps
	c.Put(ctx, next)

	got := c.Get(ctx, "V1")
	require.NotNil(t, got)
	assert.Len(t, got.Segments, 1)
	assert.Equal(t, clock.now.Add(DefaultTTL), got.ExpiresAt)
}

func TestSubtitleCache_GetEvictsExpired(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, sampleEntry("V1"))
	c.Put(ctx, sampleEntry("V2"))
	require.Equal(t, 2, c.Stats(ctx).TotalEntries)

	clock.Advance(DefaultTTL)
	assert.Equal(t, 2, c.Stats(ctx).ExpiredEntries)

	assert.Nil(t, c.Get(ctx, "V1"))
	assert.Equal(t, Stats{TotalEntries: 1, ExpiredEntries: 1}, c.Stats(ctx))
}

func TestSubtitleCache_SweepExpired(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, sampleEntry("old-1"))
	c.Put(ctx, sampleEntry("old-2"))
	clock.Advance(DefaultTTL - time.Minute)
	c.Put(ctx, sampleEntry("fresh"))
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 2, c.SweepExpired(ctx))
	assert.Equal(t, Stats{TotalEntries: 1}, c.Stats(ctx))
	assert.NotNil(t, c.Get(ctx, "fresh"))
}

func TestSubtitleCache_RemoveAndClear(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, sampleEntry("a"))
	c.Put(ctx, sampleEntry("b"))
	c.Remove(ctx, "a")
	assert.Nil(t, c.Get(ctx, "a"))
	assert.NotNil(t, c.Get(ctx, "b"))

	c.Clear(ctx)
	assert.Equal(t, 0, c.Stats(ctx).TotalEntries)
}

func TestSubtitleCache_RefusesEmptySegments(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, Entry{VideoID: "V1", Source: subtitle.SourceSpeech})
	assert.Nil(t, c.Get(ctx, "V1"))
	assert.Equal(t, 0, c.Stats(ctx).TotalEntries)
}

func TestSubtitleCache_CustomTTL(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(context.Background(), NewMemoryStore(), WithClock(clock.Now), WithTTL(time.Minute))
	ctx := context.Background()

	c.Put(ctx, sampleEntry("V1"))
	clock.Advance(59 * time.Second)
	assert.NotNil(t, c.Get(ctx, "V1"))
	clock.Advance(time.Second)
	assert.Nil(t, c.Get(ctx, "V1"))
}

type brokenStore struct {
	*MemoryStore
	pingErr error
	opErr   error
	deletes int
}

func (b *brokenStore) Ping(ctx context.Context) error { return b.pingErr }

func (b *brokenStore) GetEntry(ctx context.Context, videoID string) (Entry, bool, error) {
	if b.opErr != nil {
		return Entry{}, false, b.opErr
	}
	return b.MemoryStore.GetEntry(ctx, videoID)
}

func (b *brokenStore) PutEntry(ctx context.Context, entry Entry) error {
	if b.opErr != nil {
		return b.opErr
	}
	return b.MemoryStore.PutEntry(ctx, entry)
}

func (b *brokenStore) DeleteEntry(ctx context.Context, videoID string) error {
	b.deletes++
	return b.MemoryStore.DeleteEntry(ctx, videoID)
}

func (b *brokenStore) DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error) {
	if b.opErr != nil {
		return 0, b.opErr
	}
	return b.MemoryStore.DeleteExpiredEntries(ctx, now)
}

func (b *brokenStore) CountEntries(ctx context.Context, now time.Time) (int, int, error) {
	if b.opErr != nil {
		return 0, 0, b.opErr
	}
	return b.MemoryStore.CountEntries(ctx, now)
}

func TestSubtitleCache_UnavailableStoreIsNoop(t *testing.T) {
	ctx := context.Background()
	store := &brokenStore{MemoryStore: NewMemoryStore(), pingErr: errors.New("quota exceeded")}
	c := New(ctx, store)

	assert.False(t, c.Available())
	c.Put(ctx, sampleEntry("V1"))
	assert.Nil(t, c.Get(ctx, "V1"))
	assert.Equal(t, 0, c.SweepExpired(ctx))
	assert.Equal(t, Stats{}, c.Stats(ctx))
	c.Remove(ctx, "V1")
	c.Clear(ctx)
	assert.Zero(t, store.deletes)

	noStore := New(ctx, nil)
	assert.False(t, noStore.Available())
	assert.Nil(t, noStore.Get(ctx, "V1"))
}

func TestSubtitleCache_FailingOperationsDegrade(t *testing.T) {
	ctx := context.Background()
	store := &brokenStore{MemoryStore: NewMemoryStore()}
	c := New(ctx, store)
	require.True(t, c.Available())

	store.opErr = errors.New("disk I/O error")
	assert.NotPanics(t, func() { c.Put(ctx, sampleEntry("V1")) })
	assert.Nil(t, c.Get(ctx, "V1"))
	assert.Equal(t, 1, store.deletes, "unreadable entry is dropped")
	assert.Equal(t, 0, c.SweepExpired(ctx))
	assert.Equal(t, Stats{}, c.Stats(ctx))
}
