package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antoniostano/memochat/internal/memo"
)

type createMemoRequest struct {
	Title string `json:"title"`
	Time  string `json:"time"`
}

type rescheduleMemoRequest struct {
	Time string `json:"time"`
}

type listMemosResponse struct {
	Memos []memo.Memo `json:"memos"`
	Count int         `json:"count"`
}

func (s *Server) handleListMemos(w http.ResponseWriter, _ *http.Request) {
	if !s.memosEnabled(w) {
		return
	}
	memos := s.memos.List()
	respondJSON(w, http.StatusOK, listMemosResponse{Memos: memos, Count: len(memos)})
}

func (s *Server) handleCreateMemo(w http.ResponseWriter, r *http.Request) {
	if !s.memosEnabled(w) {
		return
	}
	var req createMemoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	m, err := s.memos.Create(r.Context(), req.Title, req.Time)
	if !s.memoResult(w, err) {
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateMemo(w http.ResponseWriter, r *http.Request) {
	if !s.memosEnabled(w) {
		return
	}
	var patch memo.Patch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	m, err := s.memos.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if !s.memoResult(w, err) {
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleRescheduleMemo(w http.ResponseWriter, r *http.Request) {
	if !s.memosEnabled(w) {
		return
	}
	var req rescheduleMemoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Time) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "time is required")
		return
	}
	m, err := s.memos.Reschedule(r.Context(), chi.URLParam(r, "id"), req.Time)
	if !s.memoResult(w, err) {
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleCompleteMemo(w http.ResponseWriter, r *http.Request) {
	if !s.memosEnabled(w) {
		return
	}
	m, err := s.memos.Update(r.Context(), chi.URLParam(r, "id"), memo.Patch{Completed: memo.Bool(true)})
	if !s.memoResult(w, err) {
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMemo(w http.ResponseWriter, r *http.Request) {
	if !s.memosEnabled(w) {
		return
	}
	if err := s.memos.Delete(r.Context(), chi.URLParam(r, "id")); !s.memoResult(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReloadMemos(w http.ResponseWriter, r *http.Request) {
	if !s.memosEnabled(w) {
		return
	}
	s.memos.Reload(r.Context())
	s.handleListMemos(w, r)
}

// memoResult writes the error response for err and reports whether the
// handler should continue. A failed write to the backend keeps the in-memory
// change, so it is logged and the request still succeeds.
func (s *Server) memoResult(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, memo.ErrPersist):
		s.logger.Warn("memo change not persisted", zap.Error(err))
		return true
	case errors.Is(err, memo.ErrNotFound):
		respondError(w, http.StatusNotFound, "memo_not_found", err.Error())
	case errors.Is(err, memo.ErrEmptyTitle):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.logger.Error("memo operation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "memo operation failed")
	}
	return false
}

func (s *Server) memosEnabled(w http.ResponseWriter) bool {
	if s.memos == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memo store not configured")
		return false
	}
	return true
}
