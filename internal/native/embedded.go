package native

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/text/language"

	"github.com/MimeLyc/subsync/internal/media"
	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/MimeLyc/subsync/pkg/log"
)

var mediaExtensions = []string{".mkv", ".mp4", ".m4v", ".webm", ".mov"}

// EmbeddedSource extracts subtitle tracks muxed into local media files named
// {videoID}.mkv, {videoID}.mp4 and so on.
type EmbeddedSource struct {
	Dir       string
	Languages []string

	ff *media.FFmpeg
}

func NewEmbeddedSource(dir string, ff *media.FFmpeg, languages ...string) *EmbeddedSource {
	if ff == nil {
		ff = media.NewFFmpeg()
	}
	return &EmbeddedSource{Dir: dir, Languages: languages, ff: ff}
}

func (s *EmbeddedSource) Fetch(ctx context.Context, videoID string) (*subtitle.File, error) {
	if err := validateID(videoID); err != nil {
		return nil, err
	}

	path, ok := s.mediaFile(videoID)
	if !ok {
		return nil, subtitle.ErrNoNativeSubtitles
	}

	streams, err := s.ff.SubtitleStreams(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}
	stream, ok := selectStream(streams, s.Languages)
	if !ok {
		return nil, subtitle.ErrNoNativeSubtitles
	}

	data, err := s.ff.ExtractSubtitle(ctx, path, stream.Position)
	if err != nil {
		return nil, fmt.Errorf("extract subtitle track %d: %w", stream.Position, err)
	}
	file, err := subtitle.ReadSRTBytes(data, path)
	if err != nil {
		return nil, err
	}
	if stream.Language != language.Und {
		file.Language = stream.Language.String()
	}
	log.Debug("Extracted embedded subtitle track %d (%s) of %s", stream.Position, stream.Codec, videoID)
	return file, nil
}

func (s *EmbeddedSource) mediaFile(videoID string) (string, bool) {
	for _, ext := range mediaExtensions {
		path := filepath.Join(s.Dir, videoID+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Exists reports whether the directory is usable as a source.
func (s *EmbeddedSource) Exists() bool {
	info, err := os.Stat(s.Dir)
	return err == nil && info.IsDir()
}

// selectStream picks the first text track in a preferred language, then the
// default text track, then the first text track.
func selectStream(streams []media.SubtitleStream, preferred []string) (media.SubtitleStream, bool) {
	var text []media.SubtitleStream
	for _, st := range streams {
		if st.Text() {
			text = append(text, st)
		}
	}
	if len(text) == 0 {
		return media.SubtitleStream{}, false
	}

	for _, want := range preferred {
		wantTag, err := language.Parse(want)
		if err != nil {
			continue
		}
		wantBase, _ := wantTag.Base()
		for _, st := range text {
			if base, conf := st.Language.Base(); conf == language.Exact && base == wantBase {
				return st, true
			}
		}
	}
	for _, st := range text {
		if st.Default {
			return st, true
		}
	}
	return text[0], true
}
