package workload

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/me/ksched/internal/kernel"
	"github.com/me/ksched/internal/logging"
	"github.com/me/ksched/internal/store"
	"github.com/me/ksched/pkg/model"
)

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	sc, err := Load(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("Load(%s): %v", name, err)
	}
	return sc
}

func runScenario(t *testing.T, sc *Scenario) (*Report, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cfg := kernel.DefaultConfig()
	cfg.MLFQS = ResolvePolicy("", sc, model.PolicyPriority) == model.PolicyMLFQS
	return Run(ctx, sc, cfg, logging.Discard(), Options{})
}

func TestRun_Donation(t *testing.T) {
	rep, err := runScenario(t, loadScenario(t, "donate.yaml"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"holder 10", "holder 40", "high got a", "holder 10"}
	if !reflect.DeepEqual(rep.Output, want) {
		t.Errorf("Output = %v, want %v", rep.Output, want)
	}
	if len(rep.Results) != 2 {
		t.Fatalf("Results = %+v, want 2", rep.Results)
	}
	for _, r := range rep.Results {
		if r.ExitStatus != 0 || r.Error != "" {
			t.Errorf("result %+v, want clean exit", r)
		}
	}
	if rep.Policy != model.PolicyPriority {
		t.Errorf("Policy = %s, want priority", rep.Policy)
	}
	if !strings.HasPrefix(rep.RunID, "run_") {
		t.Errorf("RunID = %q, want run_ prefix", rep.RunID)
	}
	var donated bool
	for _, ev := range rep.Events {
		if ev.Kind == model.EventDonate && ev.Name == "holder" && ev.Priority == 40 {
			donated = true
		}
	}
	if !donated {
		t.Error("no donate event raising holder to 40")
	}
}

func TestRun_Deadlock(t *testing.T) {
	rep, err := runScenario(t, loadScenario(t, "deadlock.yaml"))
	if !errors.Is(err, model.ErrDeadlock) {
		t.Fatalf("Run error = %v, want DEADLOCK", err)
	}
	if rep == nil || !errors.Is(rep.Err, model.ErrDeadlock) {
		t.Fatalf("report error = %v, want DEADLOCK", rep)
	}
	if run := rep.Run(); !strings.Contains(run.Error, "DEADLOCK") {
		t.Errorf("run error = %q", run.Error)
	}
	blocked := 0
	for _, th := range rep.Threads {
		if th.State == model.ThreadBlocked && th.WaitingOn != "" {
			blocked++
		}
	}
	if blocked != 2 {
		t.Errorf("%d units blocked on a lock in the final snapshot, want 2", blocked)
	}
}

func TestRun_Script(t *testing.T) {
	rep, err := runScenario(t, loadScenario(t, "script.yaml"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Output) != 3 {
		t.Fatalf("Output = %q, want 3 lines", rep.Output)
	}
	if rep.Output[0] != "js 31" || rep.Output[1] != "ticks 0" {
		t.Errorf("Output = %q", rep.Output)
	}
	if !strings.Contains(rep.Output[2], "unknown lock") {
		t.Errorf("script error line = %q", rep.Output[2])
	}
	bad := rep.Results[1]
	if bad.Name != "bad" || !strings.Contains(bad.Error, "unknown lock") || bad.ExitStatus != 0 {
		t.Errorf("bad result = %+v", bad)
	}
}

func TestRun_MLFQS(t *testing.T) {
	sc := loadScenario(t, "mlfqs.yaml")
	rep, err := runScenario(t, sc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Policy != model.PolicyMLFQS {
		t.Errorf("Policy = %s, want mlfqs", rep.Policy)
	}
	if !reflect.DeepEqual(rep.Output, []string{"load 2"}) {
		t.Errorf("Output = %v, want [load 2]", rep.Output)
	}
	if rep.Stats.Ticks != 100 {
		t.Errorf("Ticks = %d, want 100", rep.Stats.Ticks)
	}
}

func TestRun_StartAfterAndMainSteps(t *testing.T) {
	sc, err := Parse([]byte(`
name: staggered
main:
  priority: 50
  steps:
    - {op: log, message: "main at {ticks}"}
threads:
  - name: late
    start_after: 30
    steps: [{op: log, message: "late at {ticks}"}]
  - name: early
    start_after: 10
    steps: [{op: log, message: "early at {ticks} prio {priority}"}]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rep, err := runScenario(t, sc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// early runs as soon as main goes back to sleep; late only once main joins it.
	want := []string{"early at 10 prio 31", "main at 30", "late at 30"}
	if !reflect.DeepEqual(rep.Output, want) {
		t.Errorf("Output = %v, want %v", rep.Output, want)
	}
}

func TestRun_MisuseReported(t *testing.T) {
	sc, err := Parse([]byte(`
name: misuse
locks: [a]
threads:
  - name: rogue
    steps: [{op: release, target: a}, {op: log, message: "survived"}]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rep, err := runScenario(t, sc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Output) != 0 {
		t.Errorf("Output = %v, want none", rep.Output)
	}
	if rep.Results[0].ExitStatus != -1 {
		t.Errorf("ExitStatus = %d, want -1", rep.Results[0].ExitStatus)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"malformed", "threads: [", "parse scenario"},
		{"empty", "name: x\n", "no units"},
		{"unknown lock", "threads: [{name: t, steps: [{op: acquire, target: nope}]}]", `unknown lock "nope"`},
		{"unknown sema", "threads: [{name: t, steps: [{op: up, target: s}]}]", `unknown semaphore "s"`},
		{"cond without lock", "conds: [c]\nthreads: [{name: t, steps: [{op: signal, target: c}]}]", `unknown lock ""`},
		{"unknown op", "threads: [{name: t, steps: [{op: fork}]}]", `unknown op "fork"`},
		{"missing op", "threads: [{name: t, steps: [{target: a}]}]", "op is required"},
		{"duplicate name", "threads: [{name: t, steps: [{op: yield}]}, {name: t, steps: [{op: yield}]}]", "duplicate unit name"},
		{"reserved name", "threads: [{name: idle, steps: [{op: yield}]}]", "duplicate unit name"},
		{"missing name", "threads: [{steps: [{op: yield}]}]", "name is required"},
		{"long name", "threads: [{name: abcdefghijklmnopq, steps: [{op: yield}]}]", "longer than"},
		{"steps and script", "threads: [{name: t, script: 'yield()', steps: [{op: yield}]}]", "mutually exclusive"},
		{"bad script", "threads: [{name: t, script: 'acquire(('}]", "script:"},
		{"negative sema", "semaphores: {s: -1}\nthreads: [{name: t, steps: [{op: yield}]}]", "negative initial value"},
		{"shared name", "locks: [x]\nconds: [x]\nthreads: [{name: t, steps: [{op: yield}]}]", "already declared"},
		{"bad policy", "policy: fifo\nthreads: [{name: t, steps: [{op: yield}]}]", "unknown policy"},
		{"negative ticks", "threads: [{name: t, steps: [{op: compute, ticks: -1}]}]", "negative ticks"},
		{"main exit", "main: {steps: [{op: exit}]}\nthreads: [{name: t, steps: [{op: yield}]}]", "main cannot exit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, model.ErrInvalidScenario) {
				t.Fatalf("Parse error = %v, want INVALID_SCENARIO", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_DefaultsNameToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unnamed.yaml")
	if err := os.WriteFile(path, []byte("threads: [{name: t, steps: [{op: yield}]}]"), 0o644); err != nil {
		t.Fatal(err)
	}
	sc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sc.Name != "unnamed" {
		t.Errorf("Name = %q, want unnamed", sc.Name)
	}
	if got := loadScenario(t, "deadlock.yaml").Name; got != "deadlock" {
		t.Errorf("Name = %q, want deadlock", got)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load(missing) = nil error")
	}
}

func TestResolvePolicy(t *testing.T) {
	withPolicy := &Scenario{Policy: model.PolicyMLFQS}
	without := &Scenario{}
	tests := []struct {
		name     string
		override model.Policy
		sc       *Scenario
		want     model.Policy
	}{
		{"override wins", model.PolicyPriority, withPolicy, model.PolicyPriority},
		{"scenario", "", withPolicy, model.PolicyMLFQS},
		{"default", "", without, model.PolicyPriority},
	}
	for _, tt := range tests {
		if got := ResolvePolicy(tt.override, tt.sc, model.PolicyPriority); got != tt.want {
			t.Errorf("%s: ResolvePolicy = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestArchive(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rep, err := runScenario(t, loadScenario(t, "donate.yaml"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := Archive(ctx, st, rep); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	run, err := st.GetRun(ctx, rep.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun = %v, %v", run, err)
	}
	if run.Scenario != "donate" || run.FinishedAt == nil || run.Ticks != rep.Stats.Ticks {
		t.Errorf("run = %+v", run)
	}
	_, total, err := st.ListEvents(ctx, rep.RunID, model.EventListOptions{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if total != len(rep.Events) {
		t.Errorf("stored %d events, want %d", total, len(rep.Events))
	}
}

func TestSession_LiveKernel(t *testing.T) {
	sc := loadScenario(t, "donate.yaml")
	s := Start(context.Background(), sc, kernel.DefaultConfig(), logging.Discard(), Options{})
	if s.Kernel() == nil {
		t.Fatal("Kernel() = nil")
	}
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
	rep, err := s.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if rep.RunID != s.ID() {
		t.Errorf("RunID = %q, want %q", rep.RunID, s.ID())
	}
}

func TestSession_ReapUnknownUnit(t *testing.T) {
	var buf bytes.Buffer
	s := &Session{logger: logging.NewLoggerWithWriter(slog.LevelWarn, "text", &buf)}
	res := ThreadResult{Name: "ghost", TID: 99}

	err := kernel.Run(context.Background(), kernel.DefaultConfig(), logging.Discard(), func(k *kernel.Kernel) {
		s.reap(k, &res)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitStatus != -1 || !strings.Contains(res.Error, "no unit with tid 99") {
		t.Errorf("result = %+v, want exit -1 and an error", res)
	}
	if !strings.Contains(buf.String(), "unit has no exit status") || !strings.Contains(buf.String(), "thread=ghost") {
		t.Errorf("log = %q", buf.String())
	}
}
