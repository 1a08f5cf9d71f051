// Package highlight holds the viewer's per-video set of marked subtitle lines.
// It only ever refers to segments by id.
package highlight

import (
	"context"
	"fmt"
	"strings"
)

// Store persists marked segment ids per video.
type Store interface {
	MarkedSegments(ctx context.Context, videoID string) ([]string, error)
	MarkSegment(ctx context.Context, videoID, segmentID string) error
	UnmarkSegment(ctx context.Context, videoID, segmentID string) error
	ClearMarks(ctx context.Context, videoID string) error
}

// Service validates ids before touching the store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Marked(ctx context.Context, videoID string) ([]string, error) {
	if err := validateID("video id", videoID); err != nil {
		return nil, err
	}
	ids, err := s.store.MarkedSegments(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load highlights for %s: %w", videoID, err)
	}
	return ids, nil
}

// Toggle flips the mark on a segment and returns whether it is now marked.
func (s *Service) Toggle(ctx context.Context, videoID, segmentID string) (bool, error) {
	ids, err := s.Marked(ctx, videoID)
	if err != nil {
		return false, err
	}
	if err := validateID("segment id", segmentID); err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == segmentID {
			return false, s.store.UnmarkSegment(ctx, videoID, segmentID)
		}
	}
	return true, s.store.MarkSegment(ctx, videoID, segmentID)
}

func (s *Service) Mark(ctx context.Context, videoID, segmentID string) error {
	if err := validateID("video id", videoID); err != nil {
		return err
	}
	if err := validateID("segment id", segmentID); err != nil {
		return err
	}
	return s.store.MarkSegment(ctx, videoID, segmentID)
}

func (s *Service) Unmark(ctx context.Context, videoID, segmentID string) error {
	if err := validateID("video id", videoID); err != nil {
		return err
	}
	return s.store.UnmarkSegment(ctx, videoID, segmentID)
}

func (s *Service) Clear(ctx context.Context, videoID string) error {
	if err := validateID("video id", videoID); err != nil {
		return err
	}
	return s.store.ClearMarks(ctx, videoID)
}

func validateID(what, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s is required", what)
	}
	return nil
}
