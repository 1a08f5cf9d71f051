package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MimeLyc/subsync/internal/config"
	"github.com/MimeLyc/subsync/internal/httpapi"
	"github.com/MimeLyc/subsync/internal/service"
	"github.com/MimeLyc/subsync/pkg/log"
)

type engine interface {
	Start(ctx context.Context) error
	Close() error
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal("Failed to load .env: %v", err)
	}

	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	settings, err := config.LoadRuntimeSettingsFile(settingsPath)
	switch {
	case err == nil:
		opts = append(opts, config.WithRuntimeSettings(settings))
	case errors.Is(err, fs.ErrNotExist):
	default:
		log.Fatal("Failed to load settings file %s: %v", settingsPath, err)
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	level := log.ParseLevel(cfg.System.LogLevel)
	if cfg.System.LogFile != "" {
		fileLogger, err := log.NewFileLogger(cfg.System.LogFile, level)
		if err != nil {
			log.Fatal("Failed to open log file: %v", err)
		}
		defer fileLogger.Close()
		log.SetLogger(fileLogger.Logger)
	} else {
		log.InitLogger(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, *cfg)
	if err != nil {
		log.Fatal("Failed to build service: %v", err)
	}

	store, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		log.Fatal("Failed to open settings store: %v", err)
	}

	server := httpapi.NewServer(
		svc,
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithRuntimeSettingsStore(store),
		httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			return svc.ApplyRuntimeSettings(ctx, next)
		}),
	)

	if err := runWithComponents(ctx, cfg, svc, server); err != nil {
		log.Fatal("Server stopped: %v", err)
	}
}

// runWithComponents starts the engine and the HTTP server and blocks until
// ctx is canceled or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, eng engine, srv httpServer) error {
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warn("Failed to close engine: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
