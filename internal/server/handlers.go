package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/gardening"
	"github.com/hyperjump/chishiki/internal/models"
)

type searchRequest struct {
	Query string   `json:"query"`
	Tags  []string `json:"tags,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

type gardenRequest struct {
	DryRun     bool `json:"dry_run,omitempty"`
	DeepMode   bool `json:"deep_mode,omitempty"`
	MaxWorkers int  `json:"max_workers,omitempty"`
}

type indexCodebaseRequest struct {
	Root  string `json:"root,omitempty"`
	Force bool   `json:"force,omitempty"`
}

func (s *Server) handleSaveLearning(w http.ResponseWriter, r *http.Request) {
	var record models.LearningRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := s.base.Save(r.Context(), &record, true)
	if err != nil {
		s.logger.Error("save failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "saved"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("limit", req.Limit))
	records := s.base.Retrieve(r.Context(), req.Query, req.Tags, req.Limit)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"results": records,
		"count":   len(records),
	})
}

func (s *Server) handleGarden(w http.ResponseWriter, r *http.Request) {
	var req gardenRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	report, err := s.base.Garden(r.Context(), gardening.Options{
		DryRun:     req.DryRun,
		DeepMode:   req.DeepMode,
		MaxWorkers: req.MaxWorkers,
	})
	if err != nil {
		s.logger.Error("gardening failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleIndexCodebase(w http.ResponseWriter, r *http.Request) {
	var req indexCodebaseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	stats, err := s.base.IndexCodebase(r.Context(), req.Root, req.Force)
	if err != nil {
		s.logger.Error("codebase indexing failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"files_indexed":  stats.FilesIndexed,
		"files_skipped":  stats.FilesSkipped,
		"files_failed":   stats.FilesFailed,
		"chunks_indexed": stats.ChunksIndexed,
		"chunks_deleted": stats.ChunksDeleted,
	})
}

func (s *Server) handleSearchCodebase(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hits, err := s.base.SearchCodebase(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.logger.Error("codebase search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	results := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		results = append(results, map[string]any{
			"file_path":   hit.FilePath,
			"chunk_index": hit.ChunkIndex,
			"content":     hit.Content,
			"score":       hit.Score,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleGetLearning(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.base.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.base.Count(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"records": count,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
