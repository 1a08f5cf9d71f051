// Package resolver decides where a video's subtitles come from: native
// subtitles first, then the cache, then speech-to-text.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/subsync/internal/cache"
	"github.com/MimeLyc/subsync/internal/native"
	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/MimeLyc/subsync/internal/transcription"
	"github.com/MimeLyc/subsync/pkg/log"
)

const subscriberBuffer = 16

type Result struct {
	VideoID  string             `json:"video_id"`
	Segments []subtitle.Segment `json:"segments"`
	Source   subtitle.Source    `json:"source"`
	Language language.Tag       `json:"language"`
	Cached   bool               `json:"cached"`
	Status   Status             `json:"status"`
}

// session is the resolver's memory of one video for the lifetime of the
// process or until Forget.
type session struct {
	status    Status
	attempted bool
	terminal  *transcription.Error
}

type Resolver struct {
	orchestrator  *transcription.Orchestrator
	cache         *cache.SubtitleCache
	audioTemplate string
	language      language.Tag
	timeout       time.Duration
	now           func() time.Time

	mu          sync.Mutex
	sessions    map[string]*session
	subscribers map[string]map[int]chan Status
	nextSubID   int
}

type Option func(*Resolver)

// WithAudioRefTemplate sets how an audio reference is derived from a video id;
// "{id}" is replaced by the id.
func WithAudioRefTemplate(template string) Option {
	return func(r *Resolver) {
		if template != "" {
			r.audioTemplate = template
		}
	}
}

// WithLanguage sets the language hint passed to the transcription service.
func WithLanguage(tag language.Tag) Option {
	return func(r *Resolver) {
		r.language = tag
	}
}

func WithTranscriptionTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

func New(orchestrator *transcription.Orchestrator, subtitleCache *cache.SubtitleCache, opts ...Option) *Resolver {
	r := &Resolver{
		orchestrator:  orchestrator,
		cache:         subtitleCache,
		audioTemplate: "{id}",
		language:      language.Und,
		now:           time.Now,
		sessions:      make(map[string]*session),
		subscribers:   make(map[string]map[int]chan Status),
	}
	for _, opt := range opts {
		opt(r)
	}
	orchestrator.OnUpdate(r.onTaskUpdate)
	return r
}

// AudioRef returns the audio reference handed to the transcription service.
func (r *Resolver) AudioRef(videoID string) string {
	return strings.ReplaceAll(r.audioTemplate, "{id}", videoID)
}

// Resolve returns the subtitles of videoID. Only subtitle.ErrNoNativeSubtitles
// from fetcher falls back to the cache and transcription; other fetch errors
// are returned unchanged. After a terminal transcription failure Resolve
// returns the same failure without contacting the service until Retry.
func (r *Resolver) Resolve(ctx context.Context, videoID string, fetcher native.Fetcher) (Result, error) {
	if strings.TrimSpace(videoID) == "" {
		return Result{}, fmt.Errorf("video id is required")
	}
	if fetcher == nil {
		fetcher = native.None
	}

	if terminal := r.terminalFailure(videoID); terminal != nil {
		log.Debug("Video %s has a terminal transcription failure, not retrying", videoID)
		return Result{Status: r.Status(videoID)}, terminal
	}

	r.setPhase(videoID, PhaseCheckingNative)
	file, err := fetcher.Fetch(ctx, videoID)
	switch {
	case err == nil:
		if res, ok := r.nativeResult(videoID, file); ok {
			return res, nil
		}
	case errors.Is(err, subtitle.ErrNoNativeSubtitles):
		log.Debug("No native subtitles for video %s", videoID)
	default:
		r.update(videoID, func(st *Status) {
			st.Phase = PhaseFailed
			st.State = transcription.StatusFailed
			st.Message = err.Error()
			st.Retryable = true
			st.Error = nil
		})
		return Result{}, err
	}

	r.setPhase(videoID, PhaseCheckingCache)
	if entry := r.cache.Get(ctx, videoID); entry != nil {
		log.Info("Serving %d cached %s segments for video %s", len(entry.Segments), entry.Source, videoID)
		st := r.finish(videoID, entry.Source, true)
		return Result{
			VideoID:  videoID,
			Segments: entry.Segments,
			Source:   entry.Source,
			Language: entry.Language,
			Cached:   true,
			Status:   st,
		}, nil
	}

	return r.transcribe(ctx, videoID)
}

func (r *Resolver) nativeResult(videoID string, file *subtitle.File) (Result, bool) {
	if file == nil {
		return Result{}, false
	}
	segments := subtitle.Parse(videoID, file.Items, subtitle.SourceNative)
	if len(segments) == 0 {
		log.Warn("Native subtitles of video %s have no usable lines, falling back", videoID)
		return Result{}, false
	}

	lang := language.Und
	if file.Language != "" {
		if tag, err := language.Parse(file.Language); err == nil {
			lang = tag
		}
	}
	if lang == language.Und {
		lang = subtitle.DetectLanguage(segments)
	}

	st := r.finish(videoID, subtitle.SourceNative, false)
	return Result{
		VideoID:  videoID,
		Segments: segments,
		Source:   subtitle.SourceNative,
		Language: lang,
		Status:   st,
	}, true
}

func (r *Resolver) transcribe(ctx context.Context, videoID string) (Result, error) {
	r.mu.Lock()
	s := r.sessionLocked(videoID)
	s.attempted = true
	lang := r.language
	r.mu.Unlock()
	r.setPhase(videoID, PhaseTranscribing)

	res, err := r.orchestrator.Transcribe(ctx, transcription.Request{
		VideoID:  videoID,
		AudioRef: r.AudioRef(videoID),
		Language: lang,
		Timeout:  r.timeout,
	})
	if err != nil {
		classified := transcription.Classify(err)
		if ctx.Err() != nil {
			// the call keeps running; task updates keep flowing to the status
			return Result{Status: r.Status(videoID)}, classified
		}
		st := r.fail(videoID, classified)
		return Result{Status: st}, classified
	}

	st := r.finish(videoID, subtitle.SourceSpeech, res.Cached)
	return Result{
		VideoID:  videoID,
		Segments: res.Segments,
		Source:   subtitle.SourceSpeech,
		Language: res.Language,
		Cached:   res.Cached,
		Status:   st,
	}, nil
}

// SetLanguage changes the language hint of future transcriptions.
func (r *Resolver) SetLanguage(tag language.Tag) {
	r.mu.Lock()
	r.language = tag
	r.mu.Unlock()
}

// Retry clears a remembered failure for videoID and resolves again.
func (r *Resolver) Retry(ctx context.Context, videoID string, fetcher native.Fetcher) (Result, error) {
	r.mu.Lock()
	if s, ok := r.sessions[videoID]; ok {
		s.terminal = nil
		s.attempted = false
	}
	r.mu.Unlock()
	r.orchestrator.ClearFailure(videoID)
	log.Info("Manual retry for video %s", videoID)

	return r.Resolve(ctx, videoID, fetcher)
}

// Forget ends the session of videoID, e.g. when the viewer switches videos.
// A transcription already running still completes and fills the cache.
func (r *Resolver) Forget(videoID string) {
	r.mu.Lock()
	delete(r.sessions, videoID)
	r.mu.Unlock()
	r.orchestrator.Forget(videoID)
	r.publish(idleStatus(videoID))
}

// Attempted reports whether transcription was tried for videoID in this
// session.
func (r *Resolver) Attempted(videoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[videoID]
	return ok && s.attempted
}

func (r *Resolver) Status(videoID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[videoID]; ok {
		return s.status
	}
	return idleStatus(videoID)
}

// Subscribe streams status changes of videoID, starting with the current
// status. A slow reader loses intermediate updates, never the latest one.
func (r *Resolver) Subscribe(videoID string) (<-chan Status, func()) {
	ch := make(chan Status, subscriberBuffer)

	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	if r.subscribers[videoID] == nil {
		r.subscribers[videoID] = make(map[int]chan Status)
	}
	r.subscribers[videoID][id] = ch
	current := idleStatus(videoID)
	if s, ok := r.sessions[videoID]; ok {
		current = s.status
	}
	ch <- current
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers[videoID], id)
			if len(r.subscribers[videoID]) == 0 {
				delete(r.subscribers, videoID)
			}
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (r *Resolver) onTaskUpdate(task transcription.Task) {
	r.mu.Lock()
	s, ok := r.sessions[task.VideoID]
	if !ok || s.status.Phase != PhaseTranscribing {
		r.mu.Unlock()
		return
	}
	s.status.State = task.Status
	s.status.Progress = task.Progress
	s.status.Retryable = task.Retryable
	switch {
	case task.Status == transcription.StatusCompleted:
		s.status.Phase = PhaseDone
		s.status.Source = subtitle.SourceSpeech
		s.status.Cached = false
		s.status.Message = ""
		s.status.Error = nil
	case task.Status == transcription.StatusFailed && task.Error != nil:
		// the caller may have stopped waiting; the task still ends the session
		s.status.Phase = PhaseFailed
		s.status.Message = task.Error.Advice()
		s.status.Error = task.Error
		if !task.Error.Retryable() {
			s.terminal = task.Error
		}
	}
	s.status.UpdatedAt = r.now()
	st := s.status
	r.mu.Unlock()

	r.publish(st)
}

func (r *Resolver) terminalFailure(videoID string) *transcription.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[videoID]; ok {
		return s.terminal
	}
	return nil
}

func (r *Resolver) sessionLocked(videoID string) *session {
	s, ok := r.sessions[videoID]
	if !ok {
		s = &session{status: idleStatus(videoID)}
		r.sessions[videoID] = s
	}
	return s
}

func (r *Resolver) setPhase(videoID string, phase Phase) {
	r.update(videoID, func(st *Status) {
		st.Phase = phase
		st.State = transcription.StatusPending
		st.Progress = 0
		st.Source = ""
		st.Cached = false
		st.Message = ""
		st.Retryable = false
		st.Error = nil
	})
}

func (r *Resolver) finish(videoID string, source subtitle.Source, cached bool) Status {
	return r.update(videoID, func(st *Status) {
		st.Phase = PhaseDone
		st.State = transcription.StatusCompleted
		st.Progress = 100
		st.Source = source
		st.Cached = cached
		st.Message = ""
		st.Retryable = false
		st.Error = nil
	})
}

func (r *Resolver) fail(videoID string, err *transcription.Error) Status {
	r.mu.Lock()
	s := r.sessionLocked(videoID)
	if !err.Retryable() {
		s.terminal = err
	}
	s.status.Phase = PhaseFailed
	s.status.State = transcription.StatusFailed
	s.status.Message = err.Advice()
	s.status.Retryable = err.Retryable()
	s.status.Error = err
	s.status.UpdatedAt = r.now()
	st := s.status
	r.mu.Unlock()

	r.publish(st)
	return st
}

func (r *Resolver) update(videoID string, mutate func(*Status)) Status {
	r.mu.Lock()
	s := r.sessionLocked(videoID)
	mutate(&s.status)
	s.status.UpdatedAt = r.now()
	st := s.status
	r.mu.Unlock()

	r.publish(st)
	return st
}

func (r *Resolver) publish(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subscribers[st.VideoID] {
		select {
		case ch <- st:
		default:
			// drop the oldest queued update to make room for the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
