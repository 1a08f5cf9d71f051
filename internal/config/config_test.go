package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/app/data", cfg.System.DataDir)
	assert.Equal(t, filepath.Join("/app/data", "subsync.db"), cfg.DBPath())
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.UIEnabled)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.TTL())
	assert.Equal(t, 5*time.Minute, cfg.Transcription.TimeoutDuration())
	assert.Equal(t, language.Und, cfg.Transcription.Language)
	assert.Equal(t, []string{"en"}, cfg.Native.Languages)
	assert.False(t, cfg.Native.YtDlpEnabled)
}

func TestNewFromEnv_FromEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/subsync-data")
	t.Setenv("CACHE_TTL_DAYS", "7")
	t.Setenv("SUBTITLE_LANGUAGES", " de, en-GB ,,")
	t.Setenv("YTDLP_ENABLED", "true")
	t.Setenv("TRANSCRIBE_LANGUAGE", "fr")
	t.Setenv("UI_ENABLED", "false")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/tmp/subsync-data", "subsync.db"), cfg.DBPath())
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL())
	assert.Equal(t, []string{"de", "en-GB"}, cfg.Native.Languages)
	assert.True(t, cfg.Native.YtDlpEnabled)
	assert.Equal(t, language.French, cfg.Transcription.Language)
	assert.False(t, cfg.HTTP.UIEnabled)
}

func TestNewFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "ttl", key: "CACHE_TTL_DAYS", val: "0"},
		{name: "cron", key: "CACHE_SWEEP_CRON", val: "every hour"},
		{name: "timeout", key: "TRANSCRIBE_TIMEOUT", val: "-1"},
		{name: "audio template", key: "AUDIO_URL_TEMPLATE", val: "https://example.com/audio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := NewFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SUBSYNC_TEST_DOTENV=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SUBSYNC_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("SUBSYNC_TEST_DOTENV"))
}
