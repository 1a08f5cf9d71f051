package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRuntimeSettingsFile = "/app/config/settings.json"

	redactedKey = "********"
)

// RuntimeSettings are the settings an operator can change while the server
// runs. They are persisted to SETTINGS_FILE as JSON, or YAML when the file
// name ends in .yaml/.yml, and override the environment on the next start.
type RuntimeSettings struct {
	TranscribeAPIURL string `json:"transcribe_api_url" yaml:"transcribe_api_url"`
	TranscribeAPIKey string `json:"transcribe_api_key" yaml:"transcribe_api_key"`
	TranscribeModel  string `json:"transcribe_model" yaml:"transcribe_model"`
	SweepCron        string `json:"sweep_cron" yaml:"sweep_cron"`
	Language         string `json:"language" yaml:"language"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if apiURL := strings.TrimSpace(s.TranscribeAPIURL); apiURL != "" {
		u, err := url.Parse(apiURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid transcribe_api_url: %q", s.TranscribeAPIURL)
		}
		if strings.TrimSpace(s.TranscribeAPIKey) == "" {
			return fmt.Errorf("transcribe_api_key is required with transcribe_api_url")
		}
	}
	if strings.TrimSpace(s.SweepCron) == "" {
		return fmt.Errorf("sweep_cron is required")
	}
	if _, err := cron.ParseStandard(s.SweepCron); err != nil {
		return fmt.Errorf("invalid sweep_cron: %w", err)
	}
	if strings.TrimSpace(s.Language) != "" {
		if _, err := language.Parse(s.Language); err != nil {
			return fmt.Errorf("invalid language: %w", err)
		}
	}
	return nil
}

// Redacted returns a copy safe to send to a client.
func (s RuntimeSettings) Redacted() RuntimeSettings {
	if s.TranscribeAPIKey != "" {
		s.TranscribeAPIKey = redactedKey
	}
	return s
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	lang := ""
	if c.Transcription.Language != language.Und {
		lang = c.Transcription.Language.String()
	}
	return RuntimeSettings{
		TranscribeAPIURL: c.Transcription.APIURL,
		TranscribeAPIKey: c.Transcription.APIKey,
		TranscribeModel:  c.Transcription.Model,
		SweepCron:        c.Cache.SweepCron,
		Language:         lang,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.TranscribeAPIURL) != "" {
			c.Transcription.APIURL = settings.TranscribeAPIURL
		}
		if strings.TrimSpace(settings.TranscribeAPIKey) != "" {
			c.Transcription.APIKey = settings.TranscribeAPIKey
		}
		if strings.TrimSpace(settings.TranscribeModel) != "" {
			c.Transcription.Model = settings.TranscribeModel
		}
		if strings.TrimSpace(settings.SweepCron) != "" {
			c.Cache.SweepCron = settings.SweepCron
		}
		if tag, err := language.Parse(settings.Language); err == nil {
			c.Transcription.Language = tag
		}
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if isYAML(path) {
		err = yaml.Unmarshal(data, &settings)
	} else {
		err = json.Unmarshal(data, &settings)
	}
	if err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var content []byte
	var err error
	if isYAML(path) {
		content, err = yaml.Marshal(settings)
	} else {
		content, err = json.MarshalIndent(settings, "", "  ")
		content = append(content, '\n')
	}
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// UpdateRuntimeSettings persists next and makes it current. An empty API key
// keeps the stored one, so clients can save without re-sending the secret.
func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key := strings.TrimSpace(next.TranscribeAPIKey); key == "" || key == redactedKey {
		next.TranscribeAPIKey = s.current.TranscribeAPIKey
	}
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = next
	return next, nil
}
