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

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "ksched API",
		Version:     "v1",
		Description: "Scheduler simulator: run scenarios, inspect live kernels and browse recorded traces",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET", "POST"}, "Recorded runs. POST takes a YAML scenario body and ?policy=priority|mlfqs"},
			{"/api/v1/runs/{id}", []string{"GET", "DELETE"}, "Single run; in-flight runs include live threads and output"},
			{"/api/v1/runs/{id}/cancel", []string{"PUT"}, "Halt a run that is still in progress"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Trace events, filtered by ?kind= and ?tid="},
			{"/api/v1/kernel/stats", []string{"GET"}, "Statistics of a live kernel (?run=, latest by default)"},
			{"/api/v1/kernel/threads", []string{"GET"}, "Snapshot of every unit of a live kernel"},
			{"/api/v1/kernel/threads/{tid}", []string{"GET"}, "Snapshot of one unit"},
			{"/api/v1/sse/runs/{id}", []string{"GET"}, "Stream trace events of a run as they happen"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
