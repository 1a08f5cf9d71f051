package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MimeLyc/subsync/internal/config"
	"github.com/MimeLyc/subsync/internal/playback"
	"github.com/MimeLyc/subsync/internal/subtitle"
	"github.com/MimeLyc/subsync/internal/transcription"
	"github.com/MimeLyc/subsync/pkg/log"
)

// parseVideoRoute splits /api/videos/{id}[/{action}[/{rest}]].
func parseVideoRoute(p string) (videoID, action, rest string, ok bool) {
	trimmed := strings.TrimPrefix(p, "/api/videos/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 3)
	rawID, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(rawID) == "" {
		return "", "", "", false
	}
	videoID = rawID
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		rest = parts[2]
	}
	return videoID, action, rest, true
}

func (s *Server) handleVideoRoutes(w http.ResponseWriter, r *http.Request) {
	videoID, action, rest, ok := parseVideoRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case action == "" && rest == "":
		s.handleForgetVideo(w, r, videoID)
	case action == "subtitles" && rest == "":
		s.handleSubtitles(w, r, videoID)
	case action == "subtitles.srt" && rest == "":
		s.handleSubtitlesSRT(w, r, videoID)
	case action == "status" && rest == "":
		s.handleStatus(w, r, videoID)
	case action == "status" && rest == "stream":
		s.handleStatusStream(w, r, videoID)
	case action == "retry" && rest == "":
		s.handleRetry(w, r, videoID)
	case action == "active" && rest == "":
		s.handleActive(w, r, videoID)
	case action == "highlights":
		s.handleHighlights(w, r, videoID, rest)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleSubtitles(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	res, err := s.svc.Resolve(r.Context(), videoID)
	if err != nil {
		writeResolveError(w, err)
		return
	}
	s.storeTimeline(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubtitlesSRT(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	res, err := s.svc.Resolve(r.Context(), videoID)
	if err != nil {
		writeResolveError(w, err)
		return
	}
	s.storeTimeline(r.Context(), res)

	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", videoID+".srt"))
	w.WriteHeader(http.StatusOK)
	if err := subtitle.WriteSRT(w, res.Segments); err != nil {
		log.Warn("Failed to write SRT for video %s: %v", videoID, err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Resolver().Status(videoID))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.dropTimeline(videoID)
	res, err := s.svc.Retry(r.Context(), videoID)
	if err != nil {
		writeResolveError(w, err)
		return
	}
	s.storeTimeline(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleForgetVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.dropTimeline(videoID)
	s.svc.Resolver().Forget(videoID)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
	})
}

type activeResponse struct {
	playback.Cursor
	Segment *subtitle.Segment `json:"segment,omitempty"`
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		writeError(w, http.StatusBadRequest, "query parameter t must be a number of seconds")
		return
	}

	tl, ok := s.timeline(videoID)
	if !ok {
		res, err := s.svc.Resolve(r.Context(), videoID)
		if err != nil {
			writeResolveError(w, err)
			return
		}
		if tl, ok = s.storeTimeline(r.Context(), res); !ok {
			writeError(w, http.StatusInternalServerError, "subtitle timeline is inconsistent")
			return
		}
	}

	writeJSON(w, http.StatusOK, activeResponse{
		Cursor:  tl.Cursor(t),
		Segment: tl.At(t),
	})
}

type highlightsResponse struct {
	VideoID    string   `json:"video_id"`
	SegmentIDs []string `json:"segment_ids"`
}

func (s *Server) handleHighlights(w http.ResponseWriter, r *http.Request, videoID, segmentID string) {
	highlights := s.svc.Highlights()
	ctx := r.Context()
	if decoded, err := url.PathUnescape(segmentID); err == nil {
		segmentID = decoded
	}

	var err error
	switch {
	case segmentID == "" && r.Method == http.MethodGet:
	case segmentID == "" && r.Method == http.MethodDelete:
		err = highlights.Clear(ctx, videoID)
	case segmentID != "" && r.Method == http.MethodPut:
		err = highlights.Mark(ctx, videoID, segmentID)
	case segmentID != "" && r.Method == http.MethodPost:
		_, err = highlights.Toggle(ctx, videoID, segmentID)
	case segmentID != "" && r.Method == http.MethodDelete:
		err = highlights.Unmark(ctx, videoID, segmentID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ids, err := highlights.Marked(ctx, videoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, highlightsResponse{
		VideoID:    videoID,
		SegmentIDs: ids,
	})
}

type taskResponse struct {
	transcription.Task
	Error  string `json:"error,omitempty"`
	Advice string `json:"advice,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tasks := s.svc.Orchestrator().Tasks()
	ret := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		item := taskResponse{Task: task}
		if task.Error != nil {
			item.Error = task.Error.Message
			item.Advice = task.Error.Advice()
		}
		ret = append(ret, item)
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.svc.Cache().Clear(r.Context())
	s.dropAllTimelines()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
	})
}

func (s *Server) handleCacheRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/cache/"), "/")
	switch {
	case rest == "stats":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		c := s.svc.Cache()
		writeJSON(w, http.StatusOK, map[string]any{
			"available": c.Available(),
			"ttl_hours": c.TTL().Hours(),
			"stats":     c.Stats(r.Context()),
		})
	case rest == "sweep":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		removed := s.svc.Sweep(r.Context())
		s.pruneTimelines()
		writeJSON(w, http.StatusOK, map[string]any{
			"removed": removed,
		})
	case rest != "" && !strings.Contains(rest, "/"):
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		videoID, err := url.PathUnescape(rest)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid video id")
			return
		}
		s.svc.Cache().Remove(r.Context(), videoID)
		s.dropTimeline(videoID)
		writeJSON(w, http.StatusOK, map[string]any{
			"ok": true,
		})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings.Redacted())
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		current, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		check := req
		if check.TranscribeAPIKey == "" || check.TranscribeAPIKey == current.Redacted().TranscribeAPIKey {
			check.TranscribeAPIKey = current.TranscribeAPIKey
		}
		if err := check.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved.Redacted())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type transcriptionErrorResponse struct {
	Error     string                  `json:"error"`
	Kind      transcription.Kind      `json:"kind"`
	Type      transcription.ErrorType `json:"type"`
	Advice    string                  `json:"advice"`
	Retryable bool                    `json:"retryable"`
}

// writeResolveError maps transcription failures to 503 (retryable) or 422
// (terminal); any other failure came from a native source and maps to 502.
func writeResolveError(w http.ResponseWriter, err error) {
	var terr *transcription.Error
	if errors.As(err, &terr) {
		status := http.StatusServiceUnavailable
		if !terr.Retryable() {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, transcriptionErrorResponse{
			Error:     terr.Message,
			Kind:      terr.Kind,
			Type:      terr.Type,
			Advice:    terr.Advice(),
			Retryable: terr.Retryable(),
		})
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
