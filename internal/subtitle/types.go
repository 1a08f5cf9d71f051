package subtitle

import "errors"

// ErrNoNativeSubtitles reports that a video has no author-provided subtitles.
// It is the only native-source result that triggers the speech fallback.
var ErrNoNativeSubtitles = errors.New("native subtitles not available")

// Source tells where a segment list came from.
type Source string

const (
	SourceNative Source = "native"
	SourceSpeech Source = "speech"
)

func (s Source) Valid() bool {
	return s == SourceNative || s == SourceSpeech
}

// Segment is one timed subtitle line. Times are in seconds.
type Segment struct {
	ID         string   `json:"id"`
	VideoID    string   `json:"video_id"`
	StartTime  float64  `json:"start_time"`
	EndTime    float64  `json:"end_time"`
	Text       string   `json:"text"`
	Index      int      `json:"index"`
	Source     Source   `json:"source"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Duration returns EndTime - StartTime.
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// RawItem is a {from, to, content} record of unknown cleanliness, as exported
// by a platform or mapped from a transcription service response.
type RawItem struct {
	From       float64  `json:"from"`
	To         float64  `json:"to"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// File is a parsed subtitle document together with its language.
type File struct {
	Items    []RawItem
	Language string
	Format   string // SRT, JSON3
	Path     string
}
