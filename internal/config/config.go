package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subsync/pkg/log"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// Transcription Configuration:
// - TRANSCRIBE_API_URL: speech-to-text service base URL (optional, transcription disabled without it)
// - TRANSCRIBE_API_KEY: bearer token for the service (optional, transcription disabled without it)
// - TRANSCRIBE_MODEL: model name forwarded to the service (optional)
// - TRANSCRIBE_TIMEOUT: per-video transcription timeout in seconds (default: 300)
// - TRANSCRIBE_RATE_PER_MINUTE: client-side request budget (default: 30)
// - TRANSCRIBE_LANGUAGE: language hint sent with each request (default: und)
// - AUDIO_URL_TEMPLATE: audio reference for a video, {id} is replaced (default: https://www.youtube.com/watch?v={id})
//
// Cache Configuration:
// - CACHE_TTL_DAYS: days a resolved subtitle list stays valid (default: 30)
// - CACHE_SWEEP_CRON: cron expression of the expired-entry sweep (default: 0 * * * *)
//
// Native Subtitle Configuration:
// - SUBTITLE_DIR: directory with {id}.srt / {id}.{lang}.srt files (optional)
// - MEDIA_DIR: directory with {id}.mkv / {id}.mp4 files whose embedded subtitle tracks are read with ffprobe/ffmpeg (optional)
// - FFMPEG_BINARY / FFPROBE_BINARY: executables (default: ffmpeg / ffprobe)
// - YTDLP_ENABLED: look up author-provided captions with yt-dlp (default: false)
// - YTDLP_BINARY: yt-dlp executable (default: yt-dlp)
// - VIDEO_URL_TEMPLATE: page URL handed to yt-dlp, {id} is replaced (default: https://www.youtube.com/watch?v={id})
// - SUBTITLE_LANGUAGES: comma separated preferred languages (default: en)
//
// HTTP Configuration:
// - HTTP_ADDR: listen address (default: :8080)
// - UI_STATIC_DIR: static web UI directory (default: /app/web)
// - UI_ENABLED: serve the web UI (default: true)
//
// System Configuration:
// - DATA_DIR: directory of the SQLite database (default: /app/data)
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - LOG_FILE: also write logs to this file (optional)
type Config struct {
	Transcription TranscriptionConfig `json:"transcription"`
	Cache         CacheConfig         `json:"cache"`
	Native        NativeConfig        `json:"native"`
	HTTP          HTTPConfig          `json:"http"`
	System        SystemConfig        `json:"system"`
}

// TranscriptionConfig holds the configuration of the speech-to-text client
type TranscriptionConfig struct {
	APIURL           string       `json:"api_url"`
	APIKey           string       `json:"-"`
	Model            string       `json:"model"`
	Timeout          int          `json:"timeout"`
	RatePerMinute    int          `json:"rate_per_minute"`
	Language         language.Tag `json:"language"`
	AudioURLTemplate string       `json:"audio_url_template"`
}

func (c TranscriptionConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

type CacheConfig struct {
	TTLDays   int    `json:"ttl_days"`
	SweepCron string `json:"sweep_cron"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

type NativeConfig struct {
	SubtitleDir      string   `json:"subtitle_dir"`
	MediaDir         string   `json:"media_dir"`
	FFmpegBinary     string   `json:"ffmpeg_binary"`
	FFprobeBinary    string   `json:"ffprobe_binary"`
	YtDlpEnabled     bool     `json:"ytdlp_enabled"`
	YtDlpBinary      string   `json:"ytdlp_binary"`
	VideoURLTemplate string   `json:"video_url_template"`
	Languages        []string `json:"languages"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIStaticDir string `json:"ui_static_dir"`
	UIEnabled   bool   `json:"ui_enabled"`
}

// SystemConfig holds the system configuration
type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "subsync.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// LoadDotEnv loads KEY=VALUE files into the environment. Missing files are
// skipped; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
		log.Debug("Loaded environment from %s", p)
	}
	return nil
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Transcription: TranscriptionConfig{
			APIURL:           getEnvString("TRANSCRIBE_API_URL", ""),
			APIKey:           getEnvString("TRANSCRIBE_API_KEY", ""),
			Model:            getEnvString("TRANSCRIBE_MODEL", ""),
			Timeout:          getEnvInt("TRANSCRIBE_TIMEOUT", 300),
			RatePerMinute:    getEnvInt("TRANSCRIBE_RATE_PER_MINUTE", 30),
			Language:         getEnvLanguage("TRANSCRIBE_LANGUAGE", language.Und),
			AudioURLTemplate: getEnvString("AUDIO_URL_TEMPLATE", "https://www.youtube.com/watch?v={id}"),
		},
		Cache: CacheConfig{
			TTLDays:   getEnvInt("CACHE_TTL_DAYS", 30),
			SweepCron: getEnvString("CACHE_SWEEP_CRON", "0 * * * *"),
		},
		Native: NativeConfig{
			SubtitleDir:      getEnvString("SUBTITLE_DIR", ""),
			MediaDir:         getEnvString("MEDIA_DIR", ""),
			FFmpegBinary:     getEnvString("FFMPEG_BINARY", "ffmpeg"),
			FFprobeBinary:    getEnvString("FFPROBE_BINARY", "ffprobe"),
			YtDlpEnabled:     getEnvBool("YTDLP_ENABLED", false),
			YtDlpBinary:      getEnvString("YTDLP_BINARY", "yt-dlp"),
			VideoURLTemplate: getEnvString("VIDEO_URL_TEMPLATE", "https://www.youtube.com/watch?v={id}"),
			Languages:        getEnvList("SUBTITLE_LANGUAGES", []string{"en"}),
		},
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8080"),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "/app/web"),
			UIEnabled:   getEnvBool("UI_ENABLED", true),
		},
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
			LogFile:  getEnvString("LOG_FILE", ""),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Cache.TTLDays <= 0 {
		return fmt.Errorf("CACHE_TTL_DAYS must be positive")
	}
	if _, err := cron.ParseStandard(c.Cache.SweepCron); err != nil {
		return fmt.Errorf("invalid CACHE_SWEEP_CRON: %w", err)
	}
	if c.Transcription.Timeout <= 0 {
		return fmt.Errorf("TRANSCRIBE_TIMEOUT must be positive")
	}
	if !strings.Contains(c.Transcription.AudioURLTemplate, "{id}") {
		return fmt.Errorf("AUDIO_URL_TEMPLATE must contain {id}")
	}
	if c.Native.YtDlpEnabled && !strings.Contains(c.Native.VideoURLTemplate, "{id}") {
		return fmt.Errorf("VIDEO_URL_TEMPLATE must contain {id}")
	}
	if strings.TrimSpace(c.System.DataDir) == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty parts
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	ret := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	if len(ret) == 0 {
		return defaultValue
	}
	return ret
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	if value := os.Getenv(key); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}
