package native

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/subsync/internal/subtitle"
)

// DirSource serves SRT files dropped into a directory, named
// {videoID}.{lang}.srt or {videoID}.srt.
type DirSource struct {
	Dir       string
	Languages []string
}

func NewDirSource(dir string, languages ...string) *DirSource {
	return &DirSource{Dir: dir, Languages: languages}
}

func (s *DirSource) Fetch(_ context.Context, videoID string) (*subtitle.File, error) {
	if err := validateID(videoID); err != nil {
		return nil, err
	}

	type candidate struct {
		path string
		lang string
	}
	var candidates []candidate
	for _, lang := range s.Languages {
		candidates = append(candidates, candidate{
			path: filepath.Join(s.Dir, videoID+"."+lang+".srt"),
			lang: lang,
		})
	}
	candidates = append(candidates, candidate{path: filepath.Join(s.Dir, videoID+".srt")})

	for _, c := range candidates {
		file, err := subtitle.ReadSRTFile(c.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		file.Language = c.lang
		return file, nil
	}
	return nil, subtitle.ErrNoNativeSubtitles
}

// validateID rejects ids that would escape the source directory.
func validateID(videoID string) error {
	if videoID == "" || videoID != filepath.Base(videoID) || strings.HasPrefix(videoID, ".") {
		return fmt.Errorf("invalid video id %q", videoID)
	}
	return nil
}

// Exists reports whether the directory is usable as a source.
func (s *DirSource) Exists() bool {
	info, err := os.Stat(s.Dir)
	return err == nil && info.IsDir()
}
