// Package api exposes the story pipeline and progress tracking over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yelabb/readquest/internal/ai"
	"github.com/yelabb/readquest/internal/progress"
	"github.com/yelabb/readquest/internal/story"
)

const (
	defaultListLimit = 20
	maxListLimit     = 50
)

// HealthChecker is anything with a liveness ping (database, cache).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	assembler *story.Assembler
	stories   story.Store
	progress  progress.Store
	ready     []HealthChecker
}

// NewServer creates the API server. Ready checkers are pinged by /readyz;
// pass the database and, when enabled, the cache.
func NewServer(assembler *story.Assembler, stories story.Store, progressStore progress.Store, ready ...HealthChecker) *Server {
	return &Server{
		assembler: assembler,
		stories:   stories,
		progress:  progressStore,
		ready:     ready,
	}
}

// Routes returns the HTTP router.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("POST /api/stories/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/stories", s.handleListStories)
	mux.HandleFunc("GET /api/stories/export", s.handleExportStories)
	mux.HandleFunc("GET /api/progress/{userId}", s.handleGetProgress)
	mux.HandleFunc("PUT /api/progress/{userId}", s.handleUpdateProgress)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, checker := range s.ready {
		if err := checker.HealthCheck(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// generateRequest is the body of POST /api/stories/generate.
type generateRequest struct {
	UserID               string   `json:"userId"`
	ReadingLevel         string   `json:"readingLevel"`
	Theme                string   `json:"theme"`
	Interests            []string `json:"interests,omitempty"`
	DifficultyMultiplier float64  `json:"difficultyMultiplier,omitempty"`
	Language             string   `json:"language,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}

	result, err := s.assembler.Assemble(r.Context(), story.Request{
		ReadingLevel:         req.ReadingLevel,
		Theme:                req.Theme,
		Interests:            req.Interests,
		DifficultyMultiplier: req.DifficultyMultiplier,
		Language:             req.Language,
	})
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// storySummary is the list representation of a story.
type storySummary struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Theme          string         `json:"theme"`
	ReadingLevel   string         `json:"readingLevel"`
	Language       string         `json:"language"`
	WordCount      int            `json:"wordCount"`
	ReadingMinutes int            `json:"readingMinutes"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"createdAt"`
}

func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	level, limit, ok := s.listParams(w, r)
	if !ok {
		return
	}

	stories, err := s.stories.ListRecent(r.Context(), level, limit)
	if err != nil {
		slog.Error("listing stories failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "listing stories failed")
		return
	}

	summaries := make([]storySummary, 0, len(stories))
	for _, st := range stories {
		summaries = append(summaries, storySummary{
			ID:             st.ID,
			Title:          st.Title,
			Theme:          st.Theme,
			ReadingLevel:   st.ReadingLevel.String(),
			Language:       st.Language,
			WordCount:      st.WordCount,
			ReadingMinutes: st.ReadingMinutes,
			Metadata:       st.Metadata,
			CreatedAt:      st.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{"stories": summaries})
}

// listParams parses and clamps the shared list/export query parameters.
func (s *Server) listParams(w http.ResponseWriter, r *http.Request) (story.ReadingLevel, int, bool) {
	var level story.ReadingLevel
	if raw := r.URL.Query().Get("readingLevel"); raw != "" {
		parsed, err := story.ParseLevel(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return "", 0, false
		}
		level = parsed
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return "", 0, false
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	return level, limit, true
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}

	rec, err := s.progress.GetOrCreate(r.Context(), userID)
	if err != nil {
		slog.Error("progress lookup failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "progress lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// updateProgressRequest is the body of PUT /api/progress/{userId}: either a
// preference patch, or action "complete_onboarding" with optional
// preferences chosen during onboarding.
type updateProgressRequest struct {
	Action          string   `json:"action,omitempty"`
	PreferredThemes []string `json:"preferredThemes,omitempty"`
	Interests       []string `json:"interests,omitempty"`
}

func (s *Server) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}

	var req updateProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	prefs := progress.Preferences{
		PreferredThemes: req.PreferredThemes,
		Interests:       req.Interests,
	}

	var rec *progress.UserProgress
	var err error
	switch req.Action {
	case "":
		rec, err = s.progress.SavePreferences(r.Context(), userID, prefs)
	case "complete_onboarding":
		rec, err = s.progress.CompleteOnboarding(r.Context(), userID, prefs)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "unknown action: "+req.Action)
		return
	}
	if err != nil {
		slog.Error("progress update failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "progress update failed")
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// respondPipelineError maps pipeline failures onto the error taxonomy:
// caller errors are 400, transient provider errors 429, everything else
// (malformed generation, persistence) 500.
func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case story.IsCallerError(err):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case ai.IsTransient(err):
		slog.Warn("generation rate limited", "error", err)
		respondError(w, http.StatusTooManyRequests, "rate_limited", "the story provider is at capacity, retry later")
	default:
		var malformed *story.MalformedOutputError
		if errors.As(err, &malformed) {
			slog.Error("generation produced malformed output", "reason", malformed.Reason)
			respondError(w, http.StatusInternalServerError, "malformed_generation", malformed.Reason)
			return
		}
		slog.Error("story assembly failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "story assembly failed")
	}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: message}})
}
