package service

import (
	"context"
	"sync"

	"golang.org/x/text/language"

	"github.com/MimeLyc/subsync/internal/transcription"
)

// switchableTranscriber lets runtime settings replace the HTTP client while
// the orchestrator keeps its reference. An injected transcriber is never
// replaced.
type switchableTranscriber struct {
	mu       sync.RWMutex
	fixed    transcription.Transcriber
	client   *transcription.Client
	clientOK bool
}

func newSwitchableTranscriber(fixed transcription.Transcriber, cfg transcription.ClientConfig) *switchableTranscriber {
	t := &switchableTranscriber{fixed: fixed}
	t.Update(cfg)
	return t
}

func (t *switchableTranscriber) Update(cfg transcription.ClientConfig) {
	client := transcription.NewClient(cfg)
	t.mu.Lock()
	t.client = client
	t.clientOK = cfg.Configured()
	t.mu.Unlock()
}

func (t *switchableTranscriber) Configured() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fixed != nil || t.clientOK
}

func (t *switchableTranscriber) Transcribe(ctx context.Context, audioRef string, lang language.Tag) (*transcription.Transcript, error) {
	t.mu.RLock()
	var current transcription.Transcriber = t.client
	if t.fixed != nil {
		current = t.fixed
	}
	t.mu.RUnlock()
	return current.Transcribe(ctx, audioRef, lang)
}
