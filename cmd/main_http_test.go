package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subsync/internal/config"
)

type fakeEngine struct {
	startErr error
	started  bool
	closed   bool
}

func (f *fakeEngine) Start(context.Context) error {
	f.started = true
	return f.startErr
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

type fakeHTTP struct {
	listenErr    error
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			Addr:      "127.0.0.1:0",
			UIEnabled: true,
		},
	}
}

func TestMain_StartsEngineAndHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := &fakeEngine{}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, testConfig(), eng, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.True(t, eng.started)
	assert.True(t, eng.closed)
}

func TestMain_EngineStartFailure(t *testing.T) {
	eng := &fakeEngine{startErr: errors.New("bad cron")}
	httpSrv := newFakeHTTP()

	err := runWithComponents(context.Background(), testConfig(), eng, httpSrv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad cron")
	assert.False(t, eng.closed)

	select {
	case <-httpSrv.listenCalled:
		t.Fatal("http server should not start")
	default:
	}
}

func TestMain_ListenFailureStops(t *testing.T) {
	eng := &fakeEngine{}
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address in use")

	err := runWithComponents(context.Background(), testConfig(), eng, httpSrv)
	require.Error(t, err)
	assert.True(t, eng.closed)
}
