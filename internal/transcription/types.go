package transcription

import (
	"context"
	"time"

	"github.com/MimeLyc/subsync/internal/subtitle"
	"golang.org/x/text/language"
)

// Transcriber is the external speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string, lang language.Tag) (*Transcript, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audioRef string, lang language.Tag) (*Transcript, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, audioRef string, lang language.Tag) (*Transcript, error) {
	return f(ctx, audioRef, lang)
}

// Transcript is the service output already mapped to raw subtitle items.
type Transcript struct {
	Items    []subtitle.RawItem
	Language language.Tag
}

type Request struct {
	VideoID      string
	AudioRef     string
	Language     language.Tag
	ForceRefresh bool
	// Timeout bounds the external call; zero uses the orchestrator default.
	Timeout time.Duration
}

type Result struct {
	VideoID  string             `json:"video_id"`
	TaskID   string             `json:"task_id,omitempty"`
	Segments []subtitle.Segment `json:"segments"`
	Language language.Tag       `json:"language"`
	Cached   bool               `json:"cached"`
	// Shared is set when the caller attached to a call started by someone else.
	Shared bool `json:"shared"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is the in-memory record of one video's transcription.
type Task struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"video_id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Error     *Error    `json:"-"`
	Retryable bool      `json:"retryable"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether the task reached completed or failed.
func (t Task) Done() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// TerminalFailure reports a failure that must not be retried automatically.
func (t Task) TerminalFailure() bool {
	return t.Status == StatusFailed && !t.Retryable
}
