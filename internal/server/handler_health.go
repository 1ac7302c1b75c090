package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/me/ksched/pkg/model"
)

type healthResponse struct {
	Status      string       `json:"status"`
	Version     string       `json:"version"`
	GoVersion   string       `json:"go_version"`
	Uptime      string       `json:"uptime"`
	Policy      model.Policy `json:"policy"`
	Clock       string       `json:"clock"`
	Store       string       `json:"store"`
	RunningRuns int          `json:"running_runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := healthResponse{
		Status:      "healthy",
		Version:     s.version,
		GoVersion:   runtime.Version(),
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Policy:      s.config.Policy,
		Clock:       s.config.Clock,
		Store:       "unavailable",
		RunningRuns: s.live.running(),
	}
	if s.store != nil {
		opts := model.DefaultListOptions()
		opts.Limit = 1
		if _, _, err := s.store.ListRuns(r.Context(), opts); err != nil {
			s.logger.Warn("health: store check failed", "error", err)
			resp.Status = "degraded"
			resp.Store = "error"
		} else {
			resp.Store = "ok"
		}
	}
	respondOK(w, reqID, resp)
}
