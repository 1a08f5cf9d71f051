package transcription

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
)

// Kind says whether repeating the same request can succeed.
type Kind int

const (
	KindRetryable Kind = iota
	KindTerminal
)

func (k Kind) String() string {
	if k == KindTerminal {
		return "terminal"
	}
	return "retryable"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type ErrorType int

const (
	ErrConfig ErrorType = iota
	ErrNotImplemented
	ErrInvalidRequest
	ErrNoSpeech
	ErrNetwork
	ErrTimeout
	ErrRateLimited
	ErrServer
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrConfig:
		return "Config"
	case ErrNotImplemented:
		return "NotImplemented"
	case ErrInvalidRequest:
		return "InvalidRequest"
	case ErrNoSpeech:
		return "NoSpeech"
	case ErrNetwork:
		return "Network"
	case ErrTimeout:
		return "Timeout"
	case ErrRateLimited:
		return "RateLimited"
	case ErrServer:
		return "Server"
	default:
		return "Unknown"
	}
}

func (t ErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Error is a classified transcription failure. It is built once, where the
// external call returns, and passed through unchanged afterwards.
type Error struct {
	Kind    Kind
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind Kind, errorType ErrorType, message string) *Error {
	return &Error{
		Kind:    kind,
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(kind Kind, errorType ErrorType, message string, cause error) *Error {
	e := NewError(kind, errorType, message)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s/%s] %s", e.Kind, e.Type, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Retryable() bool {
	return e.Kind == KindRetryable
}

// clone copies e so WithContext on the copy leaves e untouched.
func (e *Error) clone() *Error {
	c := *e
	if e.Context != nil {
		c.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	return &c
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Advice is the human readable hint shown next to a failed transcription.
func (e *Error) Advice() string {
	switch e.Type {
	case ErrConfig:
		return "Speech-to-text is not configured on this server. Ask the operator to set the transcription API URL and key."
	case ErrNotImplemented:
		return "The transcription service does not support this request."
	case ErrInvalidRequest:
		return "The transcription service rejected the audio for this video."
	case ErrNoSpeech:
		return "No speech could be recognized in this video."
	case ErrNetwork:
		return "The transcription service could not be reached. Try again in a moment."
	case ErrTimeout:
		return "Transcription took too long. Try again later."
	case ErrRateLimited:
		return "The transcription service is busy. Try again in a few minutes."
	case ErrServer:
		return "The transcription service had an internal error. Try again later."
	default:
		return "Transcription failed. Try again."
	}
}

// ErrNotConfigured is returned by a Transcriber that lacks its endpoint or
// credentials.
var ErrNotConfigured = errors.New("transcription service not configured")

// ErrUnsupported is returned by a Transcriber that has no implementation for
// the requested operation.
var ErrUnsupported = errors.New("transcription not implemented")

// Classify maps any error returned by a Transcriber to a classified *Error.
//
// Terminal signals, in order:
//   - ErrNotConfigured, a service error code of not_configured/unauthorized, HTTP 401/403: missing or invalid configuration
//   - ErrUnsupported, service code not_implemented, HTTP 501: feature unimplemented
//   - service code invalid_request, HTTP 400/404/405/413/415/422: malformed request
//
// Everything else (timeouts, 408/425/429/5xx, network errors, unknown errors)
// is retryable unless the service explicitly hints otherwise.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.clone()
	}

	switch {
	case errors.Is(err, ErrNotConfigured):
		return NewErrorWithCause(KindTerminal, ErrConfig, "transcription service is not configured", err)
	case errors.Is(err, ErrUnsupported):
		return NewErrorWithCause(KindTerminal, ErrNotImplemented, "transcription is not implemented", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewErrorWithCause(KindRetryable, ErrTimeout, "transcription timed out", err)
	case errors.Is(err, context.Canceled):
		return NewErrorWithCause(KindRetryable, ErrNetwork, "transcription was canceled", err)
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return classifyServiceError(svcErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewErrorWithCause(KindRetryable, ErrTimeout, "transcription request timed out", err)
		}
		return NewErrorWithCause(KindRetryable, ErrNetwork, "transcription service unreachable", err)
	}

	return NewErrorWithCause(KindRetryable, ErrUnknown, "transcription failed", err)
}

func classifyServiceError(e *ServiceError) *Error {
	wrap := func(kind Kind, t ErrorType, msg string) *Error {
		return NewErrorWithCause(kind, t, msg, e).WithContext("status", e.StatusCode)
	}

	switch strings.ToLower(e.Code) {
	case "not_configured", "missing_api_key", "unauthorized", "invalid_api_key":
		return wrap(KindTerminal, ErrConfig, "transcription service rejected the configuration")
	case "not_implemented", "unsupported":
		return wrap(KindTerminal, ErrNotImplemented, "transcription service does not implement this request")
	case "invalid_request", "unsupported_media", "audio_too_long":
		return wrap(KindTerminal, ErrInvalidRequest, "transcription service rejected the request")
	case "rate_limited":
		return wrap(KindRetryable, ErrRateLimited, "transcription service is rate limiting")
	}

	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return wrap(KindTerminal, ErrConfig, "transcription service rejected the credentials")
	case http.StatusNotImplemented:
		return wrap(KindTerminal, ErrNotImplemented, "transcription service does not implement this request")
	case http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed,
		http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return wrap(KindTerminal, ErrInvalidRequest, "transcription service rejected the request")
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return wrap(KindRetryable, ErrTimeout, "transcription service timed out")
	case http.StatusTooManyRequests, http.StatusTooEarly:
		return wrap(KindRetryable, ErrRateLimited, "transcription service is rate limiting")
	}

	if e.Retryable != nil && !*e.Retryable {
		return wrap(KindTerminal, ErrUnknown, "transcription service reported a permanent failure")
	}
	if e.StatusCode >= 500 {
		return wrap(KindRetryable, ErrServer, "transcription service error")
	}
	return wrap(KindRetryable, ErrUnknown, "transcription failed")
}

func IsTerminal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTerminal
}

func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRetryable
}
