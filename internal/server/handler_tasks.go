package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/me/gthreads/pkg/gthread"
	"github.com/me/gthreads/pkg/model"
)

func taskView(ti gthread.TaskInfo) model.TaskView {
	return model.TaskView{
		ID:        ti.ID,
		Handle:    fmt.Sprintf("T%d", ti.ID),
		Name:      ti.Name,
		State:     ti.State.String(),
		Current:   ti.Current,
		OnReady:   ti.Linked,
		Switches:  ti.Switches,
		StackSize: humanize.IBytes(uint64(ti.StackSize)),
		Age:       humanize.Time(ti.CreatedAt),
		CreatedAt: ti.CreatedAt,
	}
}

// requireRuntime reports 503 when no scheduler is attached.
func (s *Server) requireRuntime(w http.ResponseWriter, reqID string) bool {
	if s.rt != nil {
		return true
	}
	respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
		Code:    model.ErrUnavailable,
		Message: "no scheduler attached to this server",
	})
	return false
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireRuntime(w, reqID) {
		return
	}
	want := strings.TrimSpace(r.URL.Query().Get("state"))

	views := make([]model.TaskView, 0)
	for _, ti := range s.rt.Snapshot() {
		if want != "" && !strings.EqualFold(ti.State.String(), want) {
			continue
		}
		views = append(views, taskView(ti))
	}
	respondList(w, reqID, views, model.NewPagination(len(views), len(views), 0))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireRuntime(w, reqID) {
		return
	}
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(strings.TrimPrefix(raw, "T"))
	if err != nil || id <= 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid task id %q", raw))
		return
	}
	for _, ti := range s.rt.Snapshot() {
		if ti.ID == id {
			respondOK(w, reqID, taskView(ti))
			return
		}
	}
	respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", raw))
}
