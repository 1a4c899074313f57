package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

var endpoints = []endpointInfo{
	{"/api/v1/health", []string{"GET"}, "Server health and version"},
	{"/api/v1/tasks", []string{"GET"}, "Snapshot of every live task record. Accepts ?state= to filter"},
	{"/api/v1/tasks/{id}", []string{"GET"}, "Single task record by arena index"},
	{"/api/v1/stats", []string{"GET"}, "Scheduler counters and stack memory"},
	{"/api/v1/runs", []string{"GET"}, "Recorded trace runs, newest first"},
	{"/api/v1/runs/{id}", []string{"GET"}, "Single recorded run"},
	{"/api/v1/runs/{id}/events", []string{"GET"}, "Scheduling events of a run. Accepts ?kind=, ?limit=, ?offset="},
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), discoveryResponse{
		Name:        "gthreads debug API",
		Version:     "v1",
		Description: "Read-only view of a green-thread scheduler and its recorded traces",
		Endpoints:   endpoints,
	})
}
