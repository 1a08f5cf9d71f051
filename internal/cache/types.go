package cache

import (
	"context"
	"time"

	"github.com/MimeLyc/subsync/internal/subtitle"
	"golang.org/x/text/language"
)

// DefaultTTL is how long a resolved subtitle set stays servable.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is a persisted resolution result for one video.
type Entry struct {
	VideoID   string             `json:"video_id"`
	Segments  []subtitle.Segment `json:"segments"`
	Source    subtitle.Source    `json:"source"`
	Language  language.Tag       `json:"language"`
	CachedAt  time.Time          `json:"cached_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Valid reports whether the entry may be served at now.
func (e Entry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Stats is a snapshot of the store for observability.
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	ExpiredEntries int `json:"expired_entries"`
}

// Store is the persistent key-value backend of the cache. Entries are keyed by
// video id and indexed by expiry for sweeping.
type Store interface {
	Ping(ctx context.Context) error
	GetEntry(ctx context.Context, videoID string) (Entry, bool, error)
	PutEntry(ctx context.Context, entry Entry) error
	DeleteEntry(ctx context.Context, videoID string) error
	DeleteAllEntries(ctx context.Context) error
	// DeleteExpiredEntries removes entries whose expires_at <= now.
	DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error)
	CountEntries(ctx context.Context, now time.Time) (total int, expired int, err error)
}
