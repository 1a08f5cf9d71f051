package transcription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subsync/internal/cache"
	"github.com/MimeLyc/subsync/internal/subtitle"
)

type fakeTranscriber struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	items   []subtitle.RawItem
	lang    language.Tag
	err     error
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{
		items: []subtitle.RawItem{
			{From: 0, To: 5, Content: "hi"},
			{From: 5, To: 10, Content: "there"},
		},
		lang: language.English,
	}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ string, _ language.Tag) (*Transcript, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Transcript{Items: f.items, Language: f.lang}, nil
}

func newTestOrchestrator(t *testing.T, tr Transcriber, opts ...Option) (*Orchestrator, *cache.SubtitleCache) {
	t.Helper()
	c := cache.New(context.Background(), cache.NewMemoryStore())
	return NewOrchestrator(tr, c, opts...), c
}

func TestOrchestrator_TranscribesAndCaches(t *testing.T) {
	tr := newFakeTranscriber()
	o, c := newTestOrchestrator(t, tr)
	ctx := context.Background()

	res, err := o.Transcribe(ctx, Request{VideoID: "V1", AudioRef: "https://example.com/V1"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, subtitle.SourceSpeech, res.Segments[0].Source)
	assert.Equal(t, language.English, res.Language)
	assert.NotEmpty(t, res.TaskID)

	task, ok := o.Task("V1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)

	entry := c.Get(ctx, "V1")
	require.NotNil(t, entry)
	assert.Equal(t, res.Segments, entry.Segments)

	again, err := o.Transcribe(ctx, Request{VideoID: "V1"})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, res.Segments, again.Segments)
	assert.EqualValues(t, 1, tr.calls.Load())
}

func TestOrchestrator_ForceRefreshBypassesCache(t *testing.T) {
	tr := newFakeTranscriber()
	o, _ := newTestOrchestrator(t, tr)
	ctx := context.Background()

	_, err := o.Transcribe(ctx, Request{VideoID: "V1"})
	require.NoError(t, err)
	res, err := o.Transcribe(ctx, Request{VideoID: "V1", ForceRefresh: true})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestOrchestrator_IgnoresNativeCacheEntries(t *testing.T) {
	tr := newFakeTranscriber()
	o, c := newTestOrchestrator(t, tr)
	ctx := context.Background()

	c.Put(ctx, cache.Entry{
		VideoID:  "V1",
		Segments: subtitle.Parse("V1", []subtitle.RawItem{{From: 0, To: 1, Content: "n"}}, subtitle.SourceNative),
		Source:   subtitle.SourceNative,
	})

	res, err := o.Transcribe(ctx, Request{VideoID: "V1"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.EqualValues(t, 1, tr.calls.Load())
}

func TestOrchestrator_AtMostOneInFlight(t *testing.T) {
	tr := newFakeTranscriber()
	tr.release = make(chan struct{})
	tr.started = make(chan struct{}, 10)
	o, _ := newTestOrchestrator(t, tr)

	const callers = 5
	results := make([]Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = o.Transcribe(context.Background(), Request{VideoID: "V1"})
		}()
	}

	<-tr.started
	// give the other callers time to attach
	require.Eventually(t, func() bool {
		task, ok := o.Task("V1")
		return ok && task.Status == StatusProcessing
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(tr.release)
	wg.Wait()

	assert.EqualValues(t, 1, tr.calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Segments, results[i].Segments)
		assert.Equal(t, results[0].TaskID, results[i].TaskID)
	}
}

func TestOrchestrator_RemembersTerminalFailure(t *testing.T) {
	tr := newFakeTranscriber()
	tr.err = &ServiceError{StatusCode: 501, Message: "feature unimplemented"}
	o, c := newTestOrchestrator(t, tr)
	ctx := context.Background()

	_, err := o.Transcribe(ctx, Request{VideoID: "V1"})
	require.Error(t, err)
	assert.True(t, IsTerminal(err))

	task, ok := o.Task("V1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, task.Status)
	assert.False(t, task.Retryable)
	assert.Nil(t, c.Get(ctx, "V1"))

	_, err = o.Transcribe(ctx, Request{VideoID: "V1"})
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
	assert.EqualValues(t, 1, tr.calls.Load())

	// manual retry
	tr.err = nil
	assert.True(t, o.ClearFailure("V1"))
	res, err := o.Transcribe(ctx, Request{VideoID: "V1"})
	require.NoError(t, err)
	assert.Len(t, res.Segments, 2)
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestOrchestrator_RetryableFailureIsNotRemembered(t *testing.T) {
	tr := newFakeTranscriber()
	tr.err = &ServiceError{StatusCode: 503, Message: "overloaded"}
	o, _ := newTestOrchestrator(t, tr)
	ctx := context.Background()

	_, err := o.Transcribe(ctx, Request{VideoID: "V1"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	task, _ := o.Task("V1")
	assert.True(t, task.Retryable)

	tr.err = nil
	_, err = o.Transcribe(ctx, Request{VideoID: "V1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestOrchestrator_TimeoutIsRetryable(t *testing.T) {
	tr := newFakeTranscriber()
	tr.release = make(chan struct{}) // never released
	o, _ := newTestOrchestrator(t, tr)

	_, err := o.Transcribe(context.Background(), Request{VideoID: "V1", Timeout: 20 * time.Millisecond})
	require.Error(t, err)

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, KindRetryable, classified.Kind)
	assert.Equal(t, ErrTimeout, classified.Type)
}

func TestOrchestrator_CallerStopsWaitingCallStillCaches(t *testing.T) {
	tr := newFakeTranscriber()
	tr.release = make(chan struct{})
	tr.started = make(chan struct{}, 1)
	o, c := newTestOrchestrator(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Transcribe(ctx, Request{VideoID: "V1"})
		done <- err
	}()

	<-tr.started
	cancel()
	err := <-done
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	close(tr.release)
	require.Eventually(t, func() bool {
		return c.Get(context.Background(), "V1") != nil
	}, time.Second, 5*time.Millisecond)

	task, ok := o.Task("V1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, task.Status)
}

func TestOrchestrator_NoUsableSegmentsIsTerminal(t *testing.T) {
	tr := newFakeTranscriber()
	tr.items = []subtitle.RawItem{{From: 3, To: 1, Content: "bad"}, {From: 0, To: 1, Content: " "}}
	o, c := newTestOrchestrator(t, tr)
	ctx := context.Background()

	_, err := o.Transcribe(ctx, Request{VideoID: "V1"})
	require.Error(t, err)
	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, ErrNoSpeech, classified.Type)
	assert.True(t, IsTerminal(err))
	assert.Nil(t, c.Get(ctx, "V1"))
}

func TestOrchestrator_MissingTranscriberIsTerminalConfig(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)

	_, err := o.Transcribe(context.Background(), Request{VideoID: "V1"})
	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, KindTerminal, classified.Kind)
	assert.Equal(t, ErrConfig, classified.Type)
}

func TestOrchestrator_RejectsEmptyVideoID(t *testing.T) {
	tr := newFakeTranscriber()
	o, _ := newTestOrchestrator(t, tr)

	_, err := o.Transcribe(context.Background(), Request{VideoID: " "})
	require.Error(t, err)
	assert.Zero(t, tr.calls.Load())
}

func TestOrchestrator_UpdateHookSeesLifecycle(t *testing.T) {
	tr := newFakeTranscriber()
	o, _ := newTestOrchestrator(t, tr)

	var mu sync.Mutex
	var seen []Status
	o.OnUpdate(func(task Task) {
		mu.Lock()
		seen = append(seen, task.Status)
		mu.Unlock()
	})

	_, err := o.Transcribe(context.Background(), Request{VideoID: "V1"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusPending, StatusProcessing, StatusCompleted}, seen)
}

func TestOrchestrator_ForgetDropsTask(t *testing.T) {
	tr := newFakeTranscriber()
	tr.err = ErrUnsupported
	o, _ := newTestOrchestrator(t, tr)

	_, err := o.Transcribe(context.Background(), Request{VideoID: "V1"})
	require.Error(t, err)
	require.Len(t, o.Tasks(), 1)

	o.Forget("V1")
	_, ok := o.Task("V1")
	assert.False(t, ok)
	assert.Empty(t, o.Tasks())
}

func TestOrchestrator_SharedErrorValueStaysUntouched(t *testing.T) {
	shared := NewError(KindTerminal, ErrNotImplemented, "not here")
	tr := newFakeTranscriber()
	tr.err = shared
	o, _ := newTestOrchestrator(t, tr)

	var wg sync.WaitGroup
	for _, id := range []string{"V1", "V2", "V3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Transcribe(context.Background(), Request{VideoID: id, AudioRef: id})
			var terr *Error
			if assert.ErrorAs(t, err, &terr) {
				assert.Equal(t, id, terr.Context["video_id"])
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, shared.Context)
}

func TestTaskRegistry_PruneKeepsTerminalFailures(t *testing.T) {
	now := time.Now()
	r := newTaskRegistry(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	r.maxTasks = 2

	a, _ := r.start("a")
	r.markFailed("a", a.ID, NewError(KindTerminal, ErrConfig, "x"))
	b, _ := r.start("b")
	r.markCompleted("b", b.ID)
	c, _ := r.start("c")
	r.markCompleted("c", c.ID)

	_, ok := r.get("a")
	assert.True(t, ok, "terminal failure kept")
	_, ok = r.get("b")
	assert.False(t, ok, "oldest completed pruned")
	_, ok = r.get("c")
	assert.True(t, ok)
}
