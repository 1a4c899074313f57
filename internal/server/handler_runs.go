package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/gthreads/internal/trace"
	"github.com/me/gthreads/pkg/gthread"
	"github.com/me/gthreads/pkg/model"
)

// listOptions reads ?limit= and ?offset=. Bad values fall back to defaults.
func listOptions(r *http.Request) trace.ListOptions {
	q := r.URL.Query()
	var opts trace.ListOptions
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))
	opts.Kind = gthread.EventKind(q.Get("kind"))
	opts.Clamp()
	return opts
}

func (s *Server) requireStore(w http.ResponseWriter, reqID string) bool {
	if s.store != nil {
		return true
	}
	respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
		Code:    model.ErrUnavailable,
		Message: "tracing is disabled; start with --trace-db",
	})
	return false
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	opts := listOptions(r)
	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if runs == nil {
		runs = []*trace.Run{}
	}
	respondList(w, reqID, runs, model.NewPagination(total, opts.Limit, opts.Offset))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, trace.ErrNotFound) {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	if err != nil {
		s.logger.Error("get run", "run", id, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(r.Context(), id); errors.Is(err, trace.ErrNotFound) {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}

	opts := listOptions(r)
	events, total, err := s.store.ListEvents(r.Context(), id, opts)
	if err != nil {
		s.logger.Error("list events", "run", id, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if events == nil {
		events = []gthread.Event{}
	}
	respondList(w, reqID, events, model.NewPagination(total, opts.Limit, opts.Offset))
}
