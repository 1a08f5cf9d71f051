package cache

import (
	"context"
	"time"

	"github.com/MimeLyc/subsync/pkg/log"
)

// SubtitleCache is a TTL cache of resolved subtitle sets. It fails open: when
// the store is missing or misbehaves every call degrades to a no-op or a miss.
type SubtitleCache struct {
	store     Store
	ttl       time.Duration
	now       func() time.Time
	available bool
}

type Option func(*SubtitleCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *SubtitleCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *SubtitleCache) {
		if now != nil {
			c.now = now
		}
	}
}

// New probes the store once. An unreachable store disables caching for the
// lifetime of the returned cache.
func New(ctx context.Context, store Store, opts ...Option) *SubtitleCache {
	c := &SubtitleCache{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if store == nil {
		log.Warn("Subtitle cache has no store, caching disabled")
		return c
	}
	if err := store.Ping(ctx); err != nil {
		log.Warn("Subtitle cache store unavailable, caching disabled: %v", err)
		return c
	}
	c.available = true
	return c
}

// Available reports whether the backing store passed the startup probe.
func (c *SubtitleCache) Available() bool {
	return c != nil && c.available
}

func (c *SubtitleCache) TTL() time.Duration {
	return c.ttl
}

// Put stores entry, stamping CachedAt and ExpiresAt and replacing any previous
// entry for the same video.
func (c *SubtitleCache) Put(ctx context.Context, entry Entry) {
	if !c.Available() {
		return
	}
	if entry.VideoID == "" || len(entry.Segments) == 0 {
		log.Warn("Refuse to cache empty subtitle set for video %q", entry.VideoID)
		return
	}

	now := c.now().UTC()
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(c.ttl)
	if err := c.store.PutEntry(ctx, entry); err != nil {
		log.Warn("Failed to cache subtitles for video %s: %v", entry.VideoID, err)
		return
	}
	log.Debug("Cached %d %s segments for video %s until %s",
		len(entry.Segments), entry.Source, entry.VideoID, entry.ExpiresAt.Format(time.RFC3339))
}

// Get returns the valid entry for videoID or nil. An expired entry found on
// the way is deleted.
func (c *SubtitleCache) Get(ctx context.Context, videoID string) *Entry {
	if !c.Available() {
		return nil
	}

	entry, ok, err := c.store.GetEntry(ctx, videoID)
	if err != nil {
		log.Warn("Failed to read cached subtitles for video %s: %v", videoID, err)
		// unreadable rows are treated as corrupt and dropped
		c.Remove(ctx, videoID)
		return nil
	}
	if !ok {
		return nil
	}

	if !entry.Valid(c.now()) {
		log.Debug("Cached subtitles for video %s expired at %s", videoID, entry.ExpiresAt.Format(time.RFC3339))
		c.Remove(ctx, videoID)
		return nil
	}
	if len(entry.Segments) == 0 {
		c.Remove(ctx, videoID)
		return nil
	}
	return &entry
}

func (c *SubtitleCache) Remove(ctx context.Context, videoID string) {
	if !c.Available() {
		return
	}
	if err := c.store.DeleteEntry(ctx, videoID); err != nil {
		log.Warn("Failed to delete cached subtitles for video %s: %v", videoID, err)
	}
}

func (c *SubtitleCache) Clear(ctx context.Context) {
	if !c.Available() {
		return
	}
	if err := c.store.DeleteAllEntries(ctx); err != nil {
		log.Warn("Failed to clear subtitle cache: %v", err)
	}
}

// SweepExpired eagerly deletes all expired entries and returns how many were
// removed.
func (c *SubtitleCache) SweepExpired(ctx context.Context) int {
	if !c.Available() {
		return 0
	}
	n, err := c.store.DeleteExpiredEntries(ctx, c.now().UTC())
	if err != nil {
		log.Warn("Failed to sweep expired subtitle cache entries: %v", err)
		return 0
	}
	if n > 0 {
		log.Info("Swept %d expired subtitle cache entries", n)
	}
	return int(n)
}

func (c *SubtitleCache) Stats(ctx context.Context) Stats {
	if !c.Available() {
		return Stats{}
	}
	total, expired, err := c.store.CountEntries(ctx, c.now().UTC())
	if err != nil {
		log.Warn("Failed to count subtitle cache entries: %v", err)
		return Stats{}
	}
	return Stats{TotalEntries: total, ExpiredEntries: expired}
}
