package httpapi

import (
	"context"
	"time"

	"github.com/MimeLyc/subsync/internal/playback"
	"github.com/MimeLyc/subsync/internal/resolver"
	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/MimeLyc/subsync/pkg/log"
)

const defaultMaxTimelines = 256

// timelineEntry lives exactly as long as the segments it indexes: speech
// timelines expire with their cache entry, native ones after one cache TTL.
type timelineEntry struct {
	timeline  *playback.Timeline
	expiresAt time.Time
}

func (s *Server) timeline(videoID string) (*playback.Timeline, bool) {
	now := s.now()
	s.mu.RLock()
	entry, ok := s.timelines[videoID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !now.Before(entry.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.timelines[videoID]; ok && cur.timeline == entry.timeline {
			delete(s.timelines, videoID)
		}
		s.mu.Unlock()
		return nil, false
	}
	return entry.timeline, true
}

func (s *Server) storeTimeline(ctx context.Context, res resolver.Result) (*playback.Timeline, bool) {
	tl, err := playback.NewTimeline(res.Segments)
	if err != nil {
		log.Error("Segments of video %s violate timeline invariants: %v", res.VideoID, err)
		return nil, false
	}

	now := s.now()
	expiresAt := now.Add(s.svc.Cache().TTL())
	if res.Source == subtitle.SourceSpeech {
		if entry := s.svc.Cache().Get(ctx, res.VideoID); entry != nil && entry.ExpiresAt.Before(expiresAt) {
			expiresAt = entry.ExpiresAt
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timelines[res.VideoID]; !ok && s.maxTimelines > 0 && len(s.timelines) >= s.maxTimelines {
		s.evictLocked(now)
	}
	s.timelines[res.VideoID] = timelineEntry{timeline: tl, expiresAt: expiresAt}
	return tl, true
}

// evictLocked drops expired timelines, then the one closest to expiry if the
// map is still full.
func (s *Server) evictLocked(now time.Time) {
	for id, entry := range s.timelines {
		if !now.Before(entry.expiresAt) {
			delete(s.timelines, id)
		}
	}
	if len(s.timelines) < s.maxTimelines {
		return
	}
	var oldestID string
	var oldest time.Time
	for id, entry := range s.timelines {
		if oldestID == "" || entry.expiresAt.Before(oldest) {
			oldestID, oldest = id, entry.expiresAt
		}
	}
	delete(s.timelines, oldestID)
}

func (s *Server) pruneTimelines() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.timelines {
		if !now.Before(entry.expiresAt) {
			delete(s.timelines, id)
		}
	}
}

func (s *Server) dropTimeline(videoID string) {
	s.mu.Lock()
	delete(s.timelines, videoID)
	s.mu.Unlock()
}

func (s *Server) dropAllTimelines() {
	s.mu.Lock()
	s.timelines = make(map[string]timelineEntry)
	s.mu.Unlock()
}
