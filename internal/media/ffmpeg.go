// Package media reads subtitle tracks embedded in local video files with
// ffprobe and ffmpeg.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"github.com/MimeLyc/subsync/pkg/log"
)

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// textCodecs can be converted to SRT; bitmap tracks (PGS, VobSub) cannot.
var textCodecs = map[string]bool{
	"subrip":   true,
	"srt":      true,
	"ass":      true,
	"ssa":      true,
	"mov_text": true,
	"webvtt":   true,
	"text":     true,
}

// bibliographic maps ISO 639-2/B codes, common in Matroska tags, to the
// terminology codes the language package understands.
var bibliographic = map[string]string{
	"alb": "sqi", "arm": "hye", "baq": "eus", "bur": "mya", "chi": "zho",
	"cze": "ces", "dut": "nld", "fre": "fra", "geo": "kat", "ger": "deu",
	"gre": "ell", "ice": "isl", "mac": "mkd", "mao": "mri", "may": "msa",
	"per": "fas", "rum": "ron", "slo": "slk", "tib": "bod", "wel": "cym",
}

func parseLanguage(code string) language.Tag {
	code = strings.ToLower(strings.TrimSpace(code))
	if t, ok := bibliographic[code]; ok {
		code = t
	}
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und
	}
	return tag
}

// SubtitleStream describes one subtitle track. Position is the track's
// ordinal among subtitle streams, as used by -map 0:s:N.
type SubtitleStream struct {
	Position int
	Codec    string
	Language language.Tag
	Title    string
	Default  bool
}

// Text reports whether the track can be extracted as SRT.
func (s SubtitleStream) Text() bool {
	return textCodecs[s.Codec]
}

type FFmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
	run        Runner
}

type Option func(*FFmpeg)

func WithBinaries(ffmpegCmd, ffprobeCmd string) Option {
	return func(ff *FFmpeg) {
		if ffmpegCmd != "" {
			ff.ffmpegCmd = ffmpegCmd
		}
		if ffprobeCmd != "" {
			ff.ffprobeCmd = ffprobeCmd
		}
	}
}

func WithRunner(run Runner) Option {
	return func(ff *FFmpeg) {
		ff.run = run
	}
}

func NewFFmpeg(opts ...Option) *FFmpeg {
	ff := &FFmpeg{
		ffmpegCmd:  "ffmpeg",
		ffprobeCmd: "ffprobe",
		run:        execRunner,
	}
	for _, opt := range opts {
		opt(ff)
	}
	return ff
}

// SubtitleStreams lists the subtitle tracks of the media file at path.
func (ff *FFmpeg) SubtitleStreams(ctx context.Context, path string) ([]SubtitleStream, error) {
	output, err := ff.run(ctx, ff.ffprobeCmd, readProbeArgs(path)...)
	if err != nil {
		log.Error("Failed to run ffprobe: %v", err)
		return nil, err
	}

	var probeResult struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Tags      struct {
				Language string `json:"language"`
				Title    string `json:"title"`
			} `json:"tags"`
			Disposition struct {
				Default int `json:"default"`
			} `json:"disposition"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(output, &probeResult); err != nil {
		log.Error("Failed to parse ffprobe output: %v", err)
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	streams := make([]SubtitleStream, 0)
	for _, stream := range probeResult.Streams {
		if stream.CodecType != "subtitle" {
			continue
		}
		streams = append(streams, SubtitleStream{
			Position: len(streams),
			Codec:    stream.CodecName,
			Language: parseLanguage(stream.Tags.Language),
			Title:    stream.Tags.Title,
			Default:  stream.Disposition.Default == 1,
		})
	}
	return streams, nil
}

// ExtractSubtitle converts one subtitle track to SRT and returns it.
func (ff *FFmpeg) ExtractSubtitle(ctx context.Context, path string, position int) ([]byte, error) {
	return ff.run(ctx, ff.ffmpegCmd, extractSubArgs(path, position)...)
}

func readProbeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "s",
		path,
	}
}

func extractSubArgs(path string, position int) []string {
	return []string{
		"-v", "error",
		"-i", path,
		"-map", "0:s:" + strconv.Itoa(position),
		"-c:s", "srt",
		"-f", "srt",
		"pipe:1",
	}
}
