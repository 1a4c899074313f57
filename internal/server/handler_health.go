package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Scheduler string `json:"scheduler"`
	Trace     string `json:"trace"`
	RunID     string `json:"run_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: "detached",
		Trace:     "disabled",
		RunID:     s.runID,
	}
	if s.rt != nil {
		resp.Scheduler = "running"
	}
	if s.store != nil {
		resp.Trace = "enabled"
	}
	respondOK(w, RequestIDFromContext(r.Context()), resp)
}
