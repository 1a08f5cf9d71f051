package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subsync/internal/cache"
	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/MimeLyc/subsync/pkg/log"
)

// DefaultTimeout bounds an external transcription call when the request does
// not carry its own timeout.
const DefaultTimeout = 5 * time.Minute

// Orchestrator runs speech-to-text for videos without native subtitles. It
// allows one external call per video at a time and writes successful results
// through the subtitle cache.
type Orchestrator struct {
	transcriber Transcriber
	cache       *cache.SubtitleCache
	timeout     time.Duration

	group singleflight.Group
	tasks *taskRegistry
}

type Option func(*Orchestrator)

func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.tasks.now = now
		}
	}
}

func WithMaxTasks(n int) Option {
	return func(o *Orchestrator) {
		o.tasks.maxTasks = n
	}
}

func NewOrchestrator(transcriber Transcriber, subtitleCache *cache.SubtitleCache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transcriber: transcriber,
		cache:       subtitleCache,
		timeout:     DefaultTimeout,
		tasks:       newTaskRegistry(time.Now),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transcribe returns speech-sourced segments for req.VideoID, from the cache
// when possible. If the caller's ctx ends first it stops waiting; the
// external call keeps running and still updates the task and the cache.
func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.VideoID) == "" {
		return Result{}, NewError(KindTerminal, ErrInvalidRequest, "video id is required")
	}

	if !req.ForceRefresh {
		if entry := o.cache.Get(ctx, req.VideoID); entry != nil && entry.Source == subtitle.SourceSpeech {
			log.Debug("Transcription cache hit for video %s", req.VideoID)
			return Result{
				VideoID:  req.VideoID,
				Segments: entry.Segments,
				Language: entry.Language,
				Cached:   true,
			}, nil
		}
	}

	if err := o.tasks.terminalFailure(req.VideoID); err != nil {
		log.Debug("Skip transcription of video %s after terminal failure: %v", req.VideoID, err)
		return Result{}, err
	}

	detached := context.WithoutCancel(ctx)
	ch := o.group.DoChan(req.VideoID, func() (any, error) {
		return o.run(detached, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		ret := res.Val.(Result)
		ret.Shared = res.Shared
		return ret, nil
	case <-ctx.Done():
		return Result{}, Classify(ctx.Err()).WithContext("video_id", req.VideoID)
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request) (Result, error) {
	task, terminal := o.tasks.start(req.VideoID)
	if terminal != nil {
		return Result{}, terminal
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	o.tasks.markProcessing(req.VideoID, task.ID)
	log.Info("Transcribing video %s (task %s, language %s, timeout %s)", req.VideoID, task.ID, req.Language, timeout)
	start := time.Now()

	transcript, err := o.callTranscriber(callCtx, req)
	if err != nil {
		classified := Classify(err).WithContext("video_id", req.VideoID)
		o.tasks.markFailed(req.VideoID, task.ID, classified)
		log.Error("Transcription of video %s failed (%s): %v", req.VideoID, classified.Kind, classified)
		return Result{}, classified
	}

	segments := subtitle.Parse(req.VideoID, transcript.Items, subtitle.SourceSpeech)
	if len(segments) == 0 {
		classified := NewError(KindTerminal, ErrNoSpeech, "transcription returned no usable segments").
			WithContext("video_id", req.VideoID).
			WithContext("raw_items", len(transcript.Items))
		o.tasks.markFailed(req.VideoID, task.ID, classified)
		log.Warn("Transcription of video %s produced no segments", req.VideoID)
		return Result{}, classified
	}

	lang := transcript.Language
	if lang == language.Und {
		lang = req.Language
	}

	// the cache write lands before the task reports completed
	o.cache.Put(ctx, cache.Entry{
		VideoID:  req.VideoID,
		Segments: segments,
		Source:   subtitle.SourceSpeech,
		Language: lang,
	})
	o.tasks.markCompleted(req.VideoID, task.ID)
	log.Info("Transcribed video %s into %d segments in %s", req.VideoID, len(segments), time.Since(start).Round(time.Millisecond))

	return Result{
		VideoID:  req.VideoID,
		TaskID:   task.ID,
		Segments: segments,
		Language: lang,
	}, nil
}

func (o *Orchestrator) callTranscriber(ctx context.Context, req Request) (transcript *Transcript, err error) {
	if o.transcriber == nil {
		return nil, ErrNotConfigured
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcriber panic: %v", r)
		}
	}()

	transcript, err = o.transcriber.Transcribe(ctx, req.AudioRef, req.Language)
	if err != nil {
		return nil, err
	}
	if transcript == nil {
		return &Transcript{}, nil
	}
	return transcript, nil
}

// Task returns the current task record for videoID.
func (o *Orchestrator) Task(videoID string) (Task, bool) {
	return o.tasks.get(videoID)
}

// Tasks lists all task records, oldest first.
func (o *Orchestrator) Tasks() []Task {
	return o.tasks.list()
}

// ClearFailure forgets a failed task so the next Transcribe call contacts the
// service again. It is the manual retry path.
func (o *Orchestrator) ClearFailure(videoID string) bool {
	return o.tasks.clearFailure(videoID)
}

// Forget drops the task record of videoID, e.g. when the viewer switches
// videos. A call already in flight still completes and fills the cache.
func (o *Orchestrator) Forget(videoID string) {
	o.tasks.forget(videoID)
}

// OnUpdate registers fn to receive every task state change. fn runs on the
// goroutine that changed the task and must not block.
func (o *Orchestrator) OnUpdate(fn func(Task)) {
	o.tasks.subscribe(fn)
}
