package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/ksched/pkg/model"
)

// selectRun resolves ?run= to a live run, defaulting to the latest one.
func (s *Server) selectRun(w http.ResponseWriter, r *http.Request) *liveRun {
	reqID := RequestIDFromContext(r.Context())
	id := r.URL.Query().Get("run")
	var lr *liveRun
	if id == "" {
		lr = s.live.latest()
		id = "latest"
	} else {
		lr = s.live.get(id)
	}
	if lr == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("live run", id))
	}
	return lr
}

type kernelStatsResponse struct {
	RunID   string `json:"run_id"`
	Running bool   `json:"running"`
	model.Stats
}

func (s *Server) handleKernelStats(w http.ResponseWriter, r *http.Request) {
	lr := s.selectRun(w, r)
	if lr == nil {
		return
	}
	stats, _ := lr.session.Kernel().Inspect()
	respondOK(w, RequestIDFromContext(r.Context()), kernelStatsResponse{
		RunID:   lr.session.ID(),
		Running: !lr.session.Finished(),
		Stats:   stats,
	})
}

func (s *Server) handleKernelThreads(w http.ResponseWriter, r *http.Request) {
	lr := s.selectRun(w, r)
	if lr == nil {
		return
	}
	_, threads := lr.session.Kernel().Inspect()
	respondOK(w, RequestIDFromContext(r.Context()), threads)
}

func (s *Server) handleKernelThread(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	raw := chi.URLParam(r, "tid")
	tid, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid thread id",
				model.FieldError{Field: "tid", Message: "must be an integer"}))
		return
	}
	lr := s.selectRun(w, r)
	if lr == nil {
		return
	}
	_, threads := lr.session.Kernel().Inspect()
	for _, th := range threads {
		if th.TID == model.TID(tid) {
			respondOK(w, reqID, th)
			return
		}
	}
	respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("thread", raw))
}
