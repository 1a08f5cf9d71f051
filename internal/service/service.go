// Package service wires the subtitle engine together from configuration and
// runs its background maintenance.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/subsync/internal/cache"
	"github.com/MimeLyc/subsync/internal/config"
	"github.com/MimeLyc/subsync/internal/highlight"
	"github.com/MimeLyc/subsync/internal/media"
	"github.com/MimeLyc/subsync/internal/native"
	"github.com/MimeLyc/subsync/internal/persistence"
	"github.com/MimeLyc/subsync/internal/resolver"
	"github.com/MimeLyc/subsync/internal/transcription"
	"github.com/MimeLyc/subsync/pkg/log"
)

type Service struct {
	cfg config.Config

	store        *persistence.SQLiteStore
	cache        *cache.SubtitleCache
	orchestrator *transcription.Orchestrator
	resolver     *resolver.Resolver
	highlights   *highlight.Service
	native       native.Fetcher
	transcriber  *switchableTranscriber

	mu         sync.Mutex
	cron       *cron.Cron
	sweepExpr  string
	sweepEntry cron.EntryID
	sweepGroup singleflight.Group
}

type Option func(*options)

type options struct {
	transcriber transcription.Transcriber
	native      native.Fetcher
	cron        *cron.Cron
}

// WithTranscriber replaces the HTTP speech-to-text client.
func WithTranscriber(t transcription.Transcriber) Option {
	return func(o *options) {
		o.transcriber = t
	}
}

// WithNativeFetcher replaces the native sources built from config.
func WithNativeFetcher(f native.Fetcher) Option {
	return func(o *options) {
		o.native = f
	}
}

func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.cron = c
	}
}

// New opens the database and builds every component. A database that cannot
// be opened disables caching and keeps highlights in memory; it is not fatal.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Service, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		cfg:       cfg,
		cron:      o.cron,
		sweepExpr: cfg.Cache.SweepCron,
	}
	if s.cron == nil {
		s.cron = cron.New()
	}

	var cacheStore cache.Store
	var highlightStore highlight.Store = highlight.NewMemoryStore()
	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		log.Error("Failed to open database %s, running without cache: %v", cfg.DBPath(), err)
	} else {
		s.store = store
		cacheStore = store
		highlightStore = store
	}

	s.cache = cache.New(ctx, cacheStore, cache.WithTTL(cfg.Cache.TTL()))
	s.highlights = highlight.NewService(highlightStore)

	s.transcriber = newSwitchableTranscriber(o.transcriber, clientConfig(cfg))
	if !s.transcriber.Configured() {
		log.Warn("Transcription service is not configured; videos without native subtitles will fail")
	}
	s.orchestrator = transcription.NewOrchestrator(s.transcriber, s.cache,
		transcription.WithTimeout(cfg.Transcription.TimeoutDuration()),
	)
	s.resolver = resolver.New(s.orchestrator, s.cache,
		resolver.WithAudioRefTemplate(cfg.Transcription.AudioURLTemplate),
		resolver.WithLanguage(cfg.Transcription.Language),
		resolver.WithTranscriptionTimeout(cfg.Transcription.TimeoutDuration()),
	)

	s.native = o.native
	if s.native == nil {
		s.native = nativeChain(cfg.Native)
	}
	return s, nil
}

func clientConfig(cfg config.Config) transcription.ClientConfig {
	return transcription.ClientConfig{
		APIURL:        cfg.Transcription.APIURL,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		RatePerMinute: cfg.Transcription.RatePerMinute,
	}
}

func nativeChain(cfg config.NativeConfig) native.Fetcher {
	var chain native.Chain
	if cfg.SubtitleDir != "" {
		dir := native.NewDirSource(cfg.SubtitleDir, cfg.Languages...)
		if dir.Exists() {
			chain = append(chain, dir)
		} else {
			log.Warn("Subtitle directory %s does not exist, skipping", cfg.SubtitleDir)
		}
	}
	if cfg.MediaDir != "" {
		ff := media.NewFFmpeg(media.WithBinaries(cfg.FFmpegBinary, cfg.FFprobeBinary))
		embedded := native.NewEmbeddedSource(cfg.MediaDir, ff, cfg.Languages...)
		if embedded.Exists() {
			chain = append(chain, embedded)
		} else {
			log.Warn("Media directory %s does not exist, skipping", cfg.MediaDir)
		}
	}
	if cfg.YtDlpEnabled {
		chain = append(chain, native.NewYtDlpSource(cfg.YtDlpBinary, cfg.VideoURLTemplate, cfg.Languages...))
	}
	if len(chain) == 0 {
		return native.None
	}
	log.Info("Native subtitle sources: %d", len(chain))
	return chain
}

// Start sweeps expired cache entries once and schedules the periodic sweep.
func (s *Service) Start(ctx context.Context) error {
	s.Sweep(ctx)
	if err := s.scheduleSweep(ctx, s.sweepExpr); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Close stops the scheduler and closes the database.
func (s *Service) Close() error {
	<-s.cron.Stop().Done()
	return s.store.Close()
}

func (s *Service) Cache() *cache.SubtitleCache {
	return s.cache
}

func (s *Service) Resolver() *resolver.Resolver {
	return s.resolver
}

func (s *Service) Orchestrator() *transcription.Orchestrator {
	return s.orchestrator
}

func (s *Service) Highlights() *highlight.Service {
	return s.highlights
}

// Resolve resolves videoID against the configured native sources.
func (s *Service) Resolve(ctx context.Context, videoID string) (resolver.Result, error) {
	return s.resolver.Resolve(ctx, videoID, s.native)
}

// Retry is the manual retry after a failed transcription.
func (s *Service) Retry(ctx context.Context, videoID string) (resolver.Result, error) {
	return s.resolver.Retry(ctx, videoID, s.native)
}

// ApplyRuntimeSettings switches the transcription client and reschedules the
// sweep without a restart.
func (s *Service) ApplyRuntimeSettings(ctx context.Context, settings config.RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	next := cloneWithSettings(s.cfg, settings)
	s.cfg = *next
	s.mu.Unlock()

	s.transcriber.Update(clientConfig(*next))
	s.resolver.SetLanguage(next.Transcription.Language)
	if err := s.scheduleSweep(ctx, next.Cache.SweepCron); err != nil {
		return fmt.Errorf("reschedule sweep: %w", err)
	}
	log.Info("Applied runtime settings (transcription configured: %v, sweep: %s)", s.transcriber.Configured(), next.Cache.SweepCron)
	return nil
}

// Config returns a copy of the current configuration.
func (s *Service) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SweepSchedule returns the active sweep cron expression.
func (s *Service) SweepSchedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepExpr
}

func cloneWithSettings(cfg config.Config, settings config.RuntimeSettings) *config.Config {
	next := cfg
	config.WithRuntimeSettings(settings)(&next)
	// an emptied URL disables transcription
	if settings.TranscribeAPIURL == "" {
		next.Transcription.APIURL = ""
	}
	return &next
}
