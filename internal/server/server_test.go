package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/ksched/internal/config"
	"github.com/me/ksched/internal/logging"
	"github.com/me/ksched/internal/store"
	"github.com/me/ksched/pkg/model"
)

const donateScenario = `
name: donate
locks: [a]
threads:
  - name: holder
    priority: 10
    steps:
      - {op: acquire, target: a}
      - {op: compute, ticks: 8}
      - {op: log, message: "holder {priority}"}
      - {op: release, target: a}
  - name: high
    priority: 40
    start_after: 2
    steps:
      - {op: acquire, target: a}
      - {op: log, message: "high got a"}
      - {op: release, target: a}
`

const spinScenario = `
name: spin
threads:
  - name: spinner
    steps: [{op: compute, ticks: 1099511627776}]
`

func testServer(t *testing.T, opts ...Option) (*Server, store.Store) {
	t.Helper()
	logger := logging.Discard()
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	srv := New(config.DefaultSimConfig(), st, logger, opts...)
	t.Cleanup(func() {
		srv.Close()
		st.Close()
	})
	return srv, st
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func decode(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}

// startRun posts a scenario and waits until the run is archived.
func startRun(t *testing.T, srv *Server, scenario string) string {
	t.Helper()
	env := do(t, srv, "POST", "/api/v1/runs", scenario, http.StatusAccepted)
	var view struct {
		ID      string `json:"id"`
		Running bool   `json:"running"`
	}
	decode(t, env, &view)
	if !strings.HasPrefix(view.ID, "run_") {
		t.Fatalf("run id = %q, want run_ prefix", view.ID)
	}
	lr := srv.live.get(view.ID)
	if lr == nil {
		t.Fatalf("run %s not registered", view.ID)
	}
	select {
	case <-lr.session.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("run %s did not finish", view.ID)
	}
	srv.Wait()
	return view.ID
}

func TestDiscovery(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "GET", "/api/v1/", "", http.StatusOK)
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if !strings.HasPrefix(env.RequestID, "req_") {
		t.Errorf("request_id = %q, want req_ prefix", env.RequestID)
	}

	var data struct {
		Name      string `json:"name"`
		Endpoints []struct {
			Path string `json:"path"`
		} `json:"endpoints"`
	}
	decode(t, env, &data)
	if data.Name != "ksched API" {
		t.Errorf("name = %q, want ksched API", data.Name)
	}
	if len(data.Endpoints) < 8 {
		t.Errorf("endpoints count = %d, want >= 8", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, WithVersion("1.2.3"))
	env := do(t, srv, "GET", "/api/v1/health", "", http.StatusOK)

	var data healthResponse
	decode(t, env, &data)
	if data.Status != "healthy" {
		t.Errorf("health status = %q, want healthy", data.Status)
	}
	if data.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", data.Version)
	}
	if data.Store != "ok" {
		t.Errorf("store = %q, want ok", data.Store)
	}
	if data.Policy != model.PolicyPriority {
		t.Errorf("policy = %q, want priority", data.Policy)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_client")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req_client" {
		t.Errorf("X-Request-ID = %q, want req_client", got)
	}
}

func TestCreateRun(t *testing.T) {
	srv, _ := testServer(t)
	id := startRun(t, srv, donateScenario)

	env := do(t, srv, "GET", "/api/v1/runs/"+id, "", http.StatusOK)
	var view struct {
		ID       string   `json:"id"`
		Scenario string   `json:"scenario"`
		Running  bool     `json:"running"`
		Output   []string `json:"output"`
		Results  []struct {
			Name       string `json:"name"`
			ExitStatus int    `json:"exit_status"`
		} `json:"results"`
		Threads []model.ThreadInfo `json:"threads"`
	}
	decode(t, env, &view)
	if view.Running {
		t.Error("running = true after the kernel halted")
	}
	if view.Scenario != "donate" {
		t.Errorf("scenario = %q, want donate", view.Scenario)
	}
	want := []string{"holder 40", "high got a"}
	if strings.Join(view.Output, "|") != strings.Join(want, "|") {
		t.Errorf("output = %v, want %v", view.Output, want)
	}
	if len(view.Results) != 2 || view.Results[0].Name != "holder" {
		t.Errorf("results = %+v", view.Results)
	}
	if len(view.Threads) == 0 {
		t.Error("threads empty")
	}

	env = do(t, srv, "GET", "/api/v1/runs", "", http.StatusOK)
	var runs []model.Run
	decode(t, env, &runs)
	if len(runs) != 1 || runs[0].ID != id || runs[0].FinishedAt == nil {
		t.Errorf("runs = %+v", runs)
	}
	if env.Pagination == nil || env.Pagination.Total != 1 {
		t.Errorf("pagination = %+v, want total 1", env.Pagination)
	}
}

func TestCreateRun_PolicyOverride(t *testing.T) {
	srv, _ := testServer(t)
	id := startRun(t, srv, donateScenario)
	id2 := func() string {
		env := do(t, srv, "POST", "/api/v1/runs?policy=mlfqs", donateScenario, http.StatusAccepted)
		var view model.Run
		decode(t, env, &view)
		if view.Policy != model.PolicyMLFQS {
			t.Errorf("policy = %q, want mlfqs", view.Policy)
		}
		<-srv.live.get(view.ID).session.Done()
		srv.Wait()
		return view.ID
	}()

	env := do(t, srv, "GET", "/api/v1/runs?policy=mlfqs", "", http.StatusOK)
	var runs []model.Run
	decode(t, env, &runs)
	if len(runs) != 1 || runs[0].ID != id2 {
		t.Errorf("mlfqs runs = %+v, want only %s (not %s)", runs, id2, id)
	}
}

func TestCreateRun_Invalid(t *testing.T) {
	srv, _ := testServer(t)
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode model.ErrorCode
	}{
		{"bad yaml", "/api/v1/runs", "threads: [", model.ErrInvalidScenarioCode},
		{"unknown lock", "/api/v1/runs", "threads: [{name: t, steps: [{op: acquire, target: x}]}]", model.ErrInvalidScenarioCode},
		{"bad policy", "/api/v1/runs?policy=fifo", donateScenario, model.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := do(t, srv, "POST", tt.path, tt.body, http.StatusBadRequest)
			if env.Status != "error" || env.Error == nil {
				t.Fatalf("envelope = %+v, want error", env)
			}
			if env.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", env.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "GET", "/api/v1/runs/run_missing", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", env.Error)
	}
	do(t, srv, "GET", "/api/v1/runs/run_missing/events", "", http.StatusNotFound)
}

func TestListEvents(t *testing.T) {
	srv, _ := testServer(t)
	id := startRun(t, srv, donateScenario)

	env := do(t, srv, "GET", "/api/v1/runs/"+id+"/events?kind=log", "", http.StatusOK)
	var events []model.Event
	decode(t, env, &events)
	if len(events) != 2 || events[0].Detail != "holder 40" {
		t.Errorf("log events = %+v", events)
	}

	env = do(t, srv, "GET", "/api/v1/runs/"+id+"/events?limit=3&offset=1", "", http.StatusOK)
	decode(t, env, &events)
	if len(events) != 3 || !env.Pagination.HasMore {
		t.Errorf("page = %d events, pagination %+v", len(events), env.Pagination)
	}

	do(t, srv, "GET", "/api/v1/runs/"+id+"/events?limit=x", "", http.StatusBadRequest)
}

func TestListEvents_Since(t *testing.T) {
	srv, _ := testServer(t)
	id := startRun(t, srv, donateScenario)

	env := do(t, srv, "GET", "/api/v1/runs/"+id+"/events", "", http.StatusOK)
	var all []model.Event
	decode(t, env, &all)
	if len(all) < 4 {
		t.Fatalf("trace has %d events", len(all))
	}
	since := all[len(all)-3].Seq

	env = do(t, srv, "GET", fmt.Sprintf("/api/v1/runs/%s/events?since=%d", id, since), "", http.StatusOK)
	var tail []model.Event
	decode(t, env, &tail)
	if len(tail) != 2 || env.Pagination.Total != 2 {
		t.Fatalf("since=%d returned %d events (total %d), want 2", since, len(tail), env.Pagination.Total)
	}
	for _, ev := range tail {
		if ev.Seq <= since {
			t.Errorf("event seq %d not after %d", ev.Seq, since)
		}
	}

	do(t, srv, "GET", "/api/v1/runs/"+id+"/events?since=x", "", http.StatusBadRequest)
}

func TestArchivedRunServedFromStore(t *testing.T) {
	srv, st := testServer(t)
	ctx := context.Background()
	run := &model.Run{ID: "run_old", Scenario: "old", Policy: model.PolicyPriority, StartedAt: time.Now().UTC()}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendEvents(ctx, run.ID, []model.Event{
		{Seq: 1, Kind: model.EventCreate, TID: 1, Name: "main", Priority: 31},
		{Seq: 2, Kind: model.EventLog, TID: 1, Name: "main", Priority: 31, Detail: "hi"},
	}); err != nil {
		t.Fatal(err)
	}

	env := do(t, srv, "GET", "/api/v1/runs/run_old", "", http.StatusOK)
	var view struct {
		Scenario string `json:"scenario"`
		Running  bool   `json:"running"`
	}
	decode(t, env, &view)
	if view.Scenario != "old" || view.Running {
		t.Errorf("view = %+v", view)
	}

	env = do(t, srv, "GET", "/api/v1/runs/run_old/events?kind=log", "", http.StatusOK)
	var events []model.Event
	decode(t, env, &events)
	if len(events) != 1 || events[0].Detail != "hi" {
		t.Errorf("events = %+v", events)
	}
	env = do(t, srv, "GET", "/api/v1/runs/run_old/events?since=1", "", http.StatusOK)
	decode(t, env, &events)
	if len(events) != 1 || events[0].Seq != 2 {
		t.Errorf("events since 1 = %+v", events)
	}

	do(t, srv, "DELETE", "/api/v1/runs/run_old", "", http.StatusOK)
	do(t, srv, "GET", "/api/v1/runs/run_old", "", http.StatusNotFound)
	do(t, srv, "DELETE", "/api/v1/runs/run_old", "", http.StatusNotFound)
}

func TestKernelEndpoints(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "GET", "/api/v1/kernel/stats", "", http.StatusNotFound)

	id := startRun(t, srv, donateScenario)

	env := do(t, srv, "GET", "/api/v1/kernel/stats", "", http.StatusOK)
	var stats kernelStatsResponse
	decode(t, env, &stats)
	if stats.RunID != id || stats.Running {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Ticks == 0 || stats.Created < 2 {
		t.Errorf("ticks = %d, created = %d", stats.Ticks, stats.Created)
	}

	env = do(t, srv, "GET", "/api/v1/kernel/threads?run="+id, "", http.StatusOK)
	var threads []model.ThreadInfo
	decode(t, env, &threads)
	if len(threads) == 0 {
		t.Fatal("no threads")
	}

	env = do(t, srv, "GET", "/api/v1/kernel/threads/1", "", http.StatusOK)
	var main model.ThreadInfo
	decode(t, env, &main)
	if main.Name != "main" {
		t.Errorf("thread 1 = %+v, want main", main)
	}
	do(t, srv, "GET", "/api/v1/kernel/threads/999", "", http.StatusNotFound)
	do(t, srv, "GET", "/api/v1/kernel/threads/abc", "", http.StatusBadRequest)
	do(t, srv, "GET", "/api/v1/kernel/stats?run=run_missing", "", http.StatusNotFound)
}

func TestCancelRun(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "POST", "/api/v1/runs", spinScenario, http.StatusAccepted)
	var started model.Run
	decode(t, env, &started)

	do(t, srv, "DELETE", "/api/v1/runs/"+started.ID, "", http.StatusConflict)

	env = do(t, srv, "PUT", "/api/v1/runs/"+started.ID+"/cancel", "", http.StatusOK)
	var view struct {
		Running bool   `json:"running"`
		Error   string `json:"error"`
	}
	decode(t, env, &view)
	if view.Running {
		t.Error("running = true after cancel")
	}
	if !strings.Contains(view.Error, "canceled") {
		t.Errorf("error = %q, want context canceled", view.Error)
	}

	do(t, srv, "PUT", "/api/v1/runs/"+started.ID+"/cancel", "", http.StatusConflict)
	do(t, srv, "PUT", "/api/v1/runs/run_missing/cancel", "", http.StatusNotFound)
}

func TestSSERun(t *testing.T) {
	srv, _ := testServer(t)
	id := startRun(t, srv, donateScenario)

	req := httptest.NewRequest("GET", "/api/v1/sse/runs/"+id, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"event: init\n", "event: event\n", "event: complete\n", `"detail":"high got a"`} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q", want)
		}
	}
	if strings.Index(body, "event: complete") < strings.LastIndex(body, "event: event") {
		t.Error("complete sent before the last event")
	}
}

func TestRegistryRetention(t *testing.T) {
	srv, _ := testServer(t, WithRetention(1))
	first := startRun(t, srv, donateScenario)
	second := startRun(t, srv, donateScenario)
	startRun(t, srv, donateScenario)

	if srv.live.get(first) != nil || srv.live.get(second) != nil {
		t.Error("old finished runs still registered")
	}
	// Evicted runs are still served from the store.
	do(t, srv, "GET", "/api/v1/runs/"+first, "", http.StatusOK)
}

func TestStoreDisabled(t *testing.T) {
	srv := New(config.DefaultSimConfig(), nil, logging.Discard())
	defer srv.Close()
	do(t, srv, "GET", "/api/v1/runs", "", http.StatusServiceUnavailable)

	env := do(t, srv, "POST", "/api/v1/runs", donateScenario, http.StatusAccepted)
	var started model.Run
	decode(t, env, &started)
	<-srv.live.get(started.ID).session.Done()
	srv.Wait()
	do(t, srv, "GET", "/api/v1/runs/"+started.ID, "", http.StatusOK)
}
