package resolver

import (
	"time"

	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/MimeLyc/subsync/internal/transcription"
)

// Phase is the resolver's position in the per-video state machine:
//
//	idle -> checking_native -> done(native)
//	                        -> checking_cache -> done(cached)
//	                                          -> transcribing -> done(speech) | failed
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseCheckingNative Phase = "checking_native"
	PhaseCheckingCache  Phase = "checking_cache"
	PhaseTranscribing   Phase = "transcribing"
	PhaseDone           Phase = "done"
	PhaseFailed         Phase = "failed"
)

// Status is the projection a UI renders while a video resolves.
type Status struct {
	VideoID   string               `json:"video_id"`
	Phase     Phase                `json:"phase"`
	State     transcription.Status `json:"state"`
	Progress  int                  `json:"progress"`
	Source    subtitle.Source      `json:"source,omitempty"`
	Cached    bool                 `json:"cached"`
	Message   string               `json:"message,omitempty"`
	Retryable bool                 `json:"retryable"`
	Error     *transcription.Error `json:"-"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func idleStatus(videoID string) Status {
	return Status{
		VideoID: videoID,
		Phase:   PhaseIdle,
		State:   transcription.StatusPending,
	}
}
