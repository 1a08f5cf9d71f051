package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/MimeLyc/subsync/internal/subtitle"
)

// ClientConfig configures the HTTP speech-to-text client.
//
// Environment Variables (see internal/config):
// - TRANSCRIBE_API_URL: service base URL (required for transcription)
// - TRANSCRIBE_API_KEY: bearer token (required for transcription)
// - TRANSCRIBE_MODEL: model name forwarded to the service (optional)
// - TRANSCRIBE_RATE_PER_MINUTE: client-side request budget (default: 30)
type ClientConfig struct {
	APIURL         string
	APIKey         string
	Model          string
	RatePerMinute  int
	RequestTimeout time.Duration
}

func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("API URL is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

// Configured reports whether the client has enough settings to make calls.
func (c ClientConfig) Configured() bool {
	return c.Validate() == nil
}

// ServiceError is a non-2xx answer of the transcription service.
type ServiceError struct {
	StatusCode int
	Code       string
	Message    string
	// Retryable is the service's own hint, when it sends one.
	Retryable *bool
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transcription service error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("transcription service error %d: %s", e.StatusCode, e.Message)
}

// Client calls a JSON speech-to-text API:
//
//	POST {APIURL}/transcriptions {"audio_url", "language", "model"}
//	200 {"language": "en", "segments": [{"start", "end", "text", "confidence"}]}
//	4xx/5xx {"error": {"code", "message", "retryable"}}
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(config ClientConfig) *Client {
	perMinute := config.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	httpClient := &http.Client{}
	if config.RequestTimeout > 0 {
		httpClient.Timeout = config.RequestTimeout
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

type transcribeSegment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type transcribeResponse struct {
	Language string              `json:"language"`
	Segments []transcribeSegment `json:"segments"`
	Error    *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable *bool  `json:"retryable"`
	} `json:"error,omitempty"`
}

func (c *Client) Transcribe(ctx context.Context, audioRef string, lang language.Tag) (*Transcript, error) {
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for request budget: %w", err)
	}

	payload := transcribeRequest{
		AudioURL: audioRef,
		Model:    c.config.Model,
	}
	if lang != language.Und {
		payload.Language = lang.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.APIURL, "/") + "/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed transcribeResponse
	decodeErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || parsed.Error != nil {
		svcErr := &ServiceError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
		if decodeErr == nil && parsed.Error != nil {
			svcErr.Code = parsed.Error.Code
			svcErr.Message = parsed.Error.Message
			svcErr.Retryable = parsed.Error.Retryable
		}
		return nil, svcErr
	}
	if decodeErr != nil {
		return nil, &ServiceError{
			StatusCode: resp.StatusCode,
			Code:       "bad_response",
			Message:    fmt.Sprintf("failed to parse response: %v", decodeErr),
		}
	}

	ret := &Transcript{
		Items:    make([]subtitle.RawItem, 0, len(parsed.Segments)),
		Language: language.Und,
	}
	if tag, err := language.Parse(parsed.Language); err == nil {
		ret.Language = tag
	}
	for _, seg := range parsed.Segments {
		ret.Items = append(ret.Items, subtitle.RawItem{
			From:       seg.Start,
			To:         seg.End,
			Content:    seg.Text,
			Confidence: seg.Confidence,
		})
	}
	return ret, nil
}
