package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/thebtf/issuestream/internal/cluster"
	"github.com/thebtf/issuestream/pkg/models"
)

func (s *Service) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleIngest accepts one fetched article and runs it through the
// decision pipeline synchronously.
func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var item models.CrawlItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid article payload")
		return
	}
	if item.Title == "" {
		s.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	dec, err := s.processor.Process(r.Context(), item)
	if err != nil {
		s.log.Error().Err(err).Str("title", item.Title).Msg("pipeline failed")
		s.writeError(w, pipelineStatus(err), err.Error())
		return
	}

	s.events.Broadcast("decision", dec)
	s.writeJSON(w, http.StatusOK, dec)
}

// handleBacklogRun drains unassigned articles through the pipeline.
func (s *Service) handleBacklogRun(w http.ResponseWriter, r *http.Request) {
	batch := 100
	if raw := r.URL.Query().Get("batch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid batch")
			return
		}
		batch = n
	}

	processed, err := s.processor.Run(r.Context(), batch)
	if err != nil {
		s.log.Error().Err(err).Int("processed", processed).Msg("backlog run failed")
		s.writeJSON(w, pipelineStatus(err), map[string]any{
			"processed": processed,
			"error":     err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"processed": processed})
}

// handleFeedsRun triggers one feed fetch-and-process cycle immediately
// instead of waiting for the next scheduled tick.
func (s *Service) handleFeedsRun(w http.ResponseWriter, r *http.Request) {
	if s.feeds == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no feeds configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.feeds.Tick(r.Context()))
}

func (s *Service) handleListIssues(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	issues, err := s.queries.ListIssues(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list issues failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

func (s *Service) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid issue id")
		return
	}

	issue, err := s.queries.GetIssue(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "get issue failed")
		return
	}
	if issue == nil {
		s.writeError(w, http.StatusNotFound, "issue not found")
		return
	}

	articles, err := s.queries.IssueArticles(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list articles failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"issue":    issue,
		"articles": articles,
	})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queries.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
		"clients": s.events.ClientCount(),
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		s.writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// pipelineStatus maps decision-pipeline error kinds onto HTTP statuses.
func pipelineStatus(err error) int {
	switch {
	case errors.Is(err, cluster.ErrDeadline):
		return http.StatusGatewayTimeout
	case errors.Is(err, cluster.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, cluster.ErrInvariant):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cluster.ErrEmbedder), errors.Is(err, cluster.ErrRetrieval):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
