// Package native looks up author-provided subtitles for a video.
package native

import (
	"context"
	"errors"

	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/MimeLyc/subsync/pkg/log"
)

// Fetcher returns the native subtitle file of a video. A video without
// native subtitles yields subtitle.ErrNoNativeSubtitles; any other error is a
// real failure and must not trigger the speech fallback.
type Fetcher interface {
	Fetch(ctx context.Context, videoID string) (*subtitle.File, error)
}

type FetcherFunc func(ctx context.Context, videoID string) (*subtitle.File, error)

func (f FetcherFunc) Fetch(ctx context.Context, videoID string) (*subtitle.File, error) {
	return f(ctx, videoID)
}

// None is a Fetcher for deployments without any native source.
var None Fetcher = FetcherFunc(func(context.Context, string) (*subtitle.File, error) {
	return nil, subtitle.ErrNoNativeSubtitles
})

// Chain tries each fetcher in order and returns the first hit. Only
// subtitle.ErrNoNativeSubtitles moves on to the next fetcher.
type Chain []Fetcher

func (c Chain) Fetch(ctx context.Context, videoID string) (*subtitle.File, error) {
	for i, f := range c {
		file, err := f.Fetch(ctx, videoID)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, subtitle.ErrNoNativeSubtitles) {
			log.Warn("Native source %d failed for video %s: %v", i, videoID, err)
			return nil, err
		}
		log.Debug("Native source %d has no subtitles for video %s", i, videoID)
	}
	return nil, subtitle.ErrNoNativeSubtitles
}
