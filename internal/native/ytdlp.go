package native

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/MimeLyc/subsync/pkg/log"
)

const (
	defaultYtDlpBinary = "yt-dlp"
	defaultMaxBytes    = 10_000_000
	formatJSON3        = "json3"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// YtDlpSource reads the author-provided (manual) caption tracks that yt-dlp
// reports for a video. Automatic captions are ignored: they are exactly what
// the speech fallback replaces.
type YtDlpSource struct {
	Binary      string
	URLTemplate string // e.g. https://www.youtube.com/watch?v={id}
	Languages   []string
	Timeout     time.Duration

	run        commandRunner
	httpClient *http.Client
}

func NewYtDlpSource(binary, urlTemplate string, languages ...string) *YtDlpSource {
	if binary == "" {
		binary = defaultYtDlpBinary
	}
	return &YtDlpSource{
		Binary:      binary,
		URLTemplate: urlTemplate,
		Languages:   languages,
		Timeout:     time.Minute,
		run:         execRunner,
		httpClient:  &http.Client{},
	}
}

// WithCommandRunner replaces process execution, mostly for tests.
func (s *YtDlpSource) WithCommandRunner(r func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	s.run = r
}

func (s *YtDlpSource) WithHTTPClient(c *http.Client) {
	s.httpClient = c
}

type ytdlpTrack struct {
	Ext string `json:"ext"`
	URL string `json:"url"`
}

type ytdlpOutput struct {
	ID        string                  `json:"id"`
	Subtitles map[string][]ytdlpTrack `json:"subtitles"`
}

func (s *YtDlpSource) Fetch(ctx context.Context, videoID string) (*subtitle.File, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	url := strings.ReplaceAll(s.URLTemplate, "{id}", videoID)
	out, err := s.run(ctx, s.Binary, "-j", "--skip-download", "--no-warnings", url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata for %s: %w", videoID, err)
	}

	meta, err := parseYtDlpOutput(out)
	if err != nil {
		return nil, err
	}

	lang, track, ok := selectManualTrack(meta.Subtitles, s.Languages)
	if !ok {
		return nil, subtitle.ErrNoNativeSubtitles
	}
	log.Debug("Using manual %s captions of video %s", lang, videoID)

	data, err := s.download(ctx, track.URL)
	if err != nil {
		return nil, fmt.Errorf("download %s captions of %s: %w", lang, videoID, err)
	}
	items, err := ParseJSON3(data)
	if err != nil {
		return nil, err
	}
	return &subtitle.File{
		Items:    items,
		Language: lang,
		Format:   "JSON3",
		Path:     track.URL,
	}, nil
}

// parseYtDlpOutput picks the JSON line out of yt-dlp's output.
func parseYtDlpOutput(out []byte) (*ytdlpOutput, error) {
	var jsonLine string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") {
			jsonLine = line
		}
	}
	if jsonLine == "" {
		return nil, fmt.Errorf("no JSON in yt-dlp output")
	}

	var meta ytdlpOutput
	if err := json.Unmarshal([]byte(jsonLine), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal yt-dlp output: %w", err)
	}
	return &meta, nil
}

// selectManualTrack returns the json3 track of the first preferred language
// that has one. Without a match, the alphabetically first language is used so
// the choice is stable.
func selectManualTrack(subs map[string][]ytdlpTrack, preferred []string) (string, ytdlpTrack, bool) {
	json3 := make(map[string]ytdlpTrack)
	for lang, tracks := range subs {
		// live_chat is listed with the subtitles but is not a caption track
		if lang == "live_chat" {
			continue
		}
		for _, t := range tracks {
			if strings.EqualFold(t.Ext, formatJSON3) && t.URL != "" {
				json3[lang] = t
				break
			}
		}
	}
	if len(json3) == 0 {
		return "", ytdlpTrack{}, false
	}

	langs := make([]string, 0, len(json3))
	for lang := range json3 {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	for _, want := range preferred {
		if t, ok := json3[want]; ok {
			return want, t, true
		}
		for _, lang := range langs {
			if strings.HasPrefix(lang, want+"-") {
				return lang, json3[lang], true
			}
		}
	}
	return langs[0], json3[langs[0]], true
}

func (s *YtDlpSource) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected http status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > defaultMaxBytes {
		return nil, fmt.Errorf("body too large (>%d bytes)", defaultMaxBytes)
	}
	return data, nil
}
