package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/ksched/internal/workload"
	"github.com/me/ksched/pkg/model"
)

// maxScenarioBytes bounds POST /runs bodies.
const maxScenarioBytes = 1 << 20

// runView is a run as served by the API. In-flight runs carry the live
// state of their kernel.
type runView struct {
	*model.Run
	Running bool                    `json:"running"`
	Output  []string                `json:"output,omitempty"`
	Results []workload.ThreadResult `json:"results,omitempty"`
	Threads []model.ThreadInfo      `json:"threads,omitempty"`
}

func liveView(lr *liveRun) runView {
	sess := lr.session
	if sess.Finished() {
		rep, _ := sess.Wait()
		return runView{Run: rep.Run(), Output: rep.Output, Results: rep.Results, Threads: rep.Threads}
	}
	k := sess.Kernel()
	stats, threads := k.Inspect()
	return runView{
		Run: &model.Run{
			ID:        sess.ID(),
			Scenario:  sess.Scenario().Name,
			Policy:    k.Policy(),
			StartedAt: sess.StartedAt(),
			Ticks:     stats.Ticks,
			Switches:  stats.Switches,
			LoadAvg:   stats.LoadAvg,
		},
		Running: true,
		Output:  sess.Output(),
		Threads: threads,
	}
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	policy := model.Policy(r.URL.Query().Get("policy"))
	if policy != "" && !policy.Valid() {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid query parameter",
				model.FieldError{Field: "policy", Message: "must be priority or mlfqs"}))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxScenarioBytes))
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("read scenario: "+err.Error()))
		return
	}
	sc, err := workload.Parse(body)
	if err != nil {
		respondScenarioError(w, reqID, err)
		return
	}
	if sc.Name == "" {
		sc.Name = r.URL.Query().Get("name")
	}
	if sc.Name == "" {
		sc.Name = "unnamed"
	}

	sess := s.startRun(sc, policy)
	s.logger.Info("run started", "run_id", sess.ID(), "scenario", sc.Name, "request_id", reqID)
	respondAccepted(w, reqID, runView{
		Run: &model.Run{
			ID:        sess.ID(),
			Scenario:  sc.Name,
			Policy:    sess.Kernel().Policy(),
			StartedAt: sess.StartedAt(),
		},
		Running: true,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}

	limit, offset, apiErr := queryPage(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	opts := model.ListOptions{
		Limit:    limit,
		Offset:   offset,
		Policy:   model.Policy(r.URL.Query().Get("policy")),
		Scenario: r.URL.Query().Get("scenario"),
	}
	opts.Clamp()

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	respondList(w, reqID, runs, model.NewPagination(total, opts.Limit, opts.Offset))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if lr := s.live.get(id); lr != nil {
		respondOK(w, reqID, liveView(lr))
		return
	}
	if !s.requireStore(w, reqID) {
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	respondOK(w, reqID, runView{Run: run})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if lr := s.live.get(id); lr != nil && !lr.session.Finished() {
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrConflict,
			Message: "run '" + id + "' is still in progress; cancel it first",
		})
		return
	}
	if !s.requireStore(w, reqID) {
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		respondInternal(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]string{"id": id, "deleted": "true"})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	lr := s.live.get(id)
	if lr == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	if lr.session.Finished() {
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrConflict,
			Message: "run '" + id + "' has already finished",
		})
		return
	}
	lr.cancel()
	<-lr.session.Done()
	s.logger.Info("run cancelled", "run_id", id, "request_id", reqID)
	respondOK(w, reqID, liveView(lr))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	limit, offset, apiErr := queryPage(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	tid, apiErr := queryInt(r, "tid")
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	since, apiErr := queryInt(r, "since")
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	opts := model.EventListOptions{
		Limit:  limit,
		Offset: offset,
		Kind:   model.EventKind(r.URL.Query().Get("kind")),
		TID:    model.TID(tid),
		Since:  int64(since),
	}
	opts.Clamp()

	if lr := s.live.get(id); lr != nil {
		events, total := filterEvents(lr.session.Events(), opts)
		respondList(w, reqID, events, model.NewPagination(total, opts.Limit, opts.Offset))
		return
	}
	if !s.requireStore(w, reqID) {
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	events, total, err := s.store.ListEvents(r.Context(), id, opts)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	respondList(w, reqID, events, model.NewPagination(total, opts.Limit, opts.Offset))
}

// filterEvents applies opts to an in-memory trace the way the store does.
func filterEvents(all []model.Event, opts model.EventListOptions) ([]model.Event, int) {
	matched := make([]model.Event, 0, len(all))
	for _, ev := range all {
		if opts.Kind != "" && ev.Kind != opts.Kind {
			continue
		}
		if opts.TID != 0 && ev.TID != opts.TID {
			continue
		}
		if ev.Seq <= opts.Since {
			continue
		}
		matched = append(matched, ev)
	}
	total := len(matched)
	if opts.Offset >= total {
		return []model.Event{}, total
	}
	end := min(opts.Offset+opts.Limit, total)
	return matched[opts.Offset:end], total
}

func (s *Server) requireStore(w http.ResponseWriter, reqID string) bool {
	if s.store != nil {
		return true
	}
	respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
		Code:    model.ErrInternal,
		Message: "run store is disabled",
	})
	return false
}
