package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/ksched/internal/config"
	"github.com/me/ksched/internal/logging"
	"github.com/me/ksched/internal/server"
	"github.com/me/ksched/internal/store"
	"github.com/me/ksched/pkg/model"
)

// startTestServer starts a monitor with an in-memory SQLite store and returns the URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := logging.Discard()
	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}

	srv := server.New(config.DefaultSimConfig(), st, srvLogger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		st.Close()
	})
	return ts.URL
}

func scenarioPath(name string) string {
	return filepath.Join("..", "..", "scenarios", name)
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if strings.TrimSpace(out) != "ksched "+Version {
		t.Errorf("output = %q", out)
	}
}

func TestValidateCommand(t *testing.T) {
	out, err := runCLI(t, "validate", scenarioPath("donate-single.yaml"), scenarioPath("js-pingpong.yaml"))
	if err != nil {
		t.Fatalf("validate error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok (donate-single, 2 units)") {
		t.Errorf("output = %q", out)
	}

	bad := writeScenario(t, "threads: [{name: t, steps: [{op: acquire, target: nope}]}]")
	out, err = runCLI(t, "validate", bad)
	if err == nil {
		t.Fatal("validate accepted an unknown lock")
	}
	if !strings.Contains(out, `unknown lock "nope"`) {
		t.Errorf("output = %q", out)
	}
}

func TestValidateEveryExample(t *testing.T) {
	paths, err := filepath.Glob(scenarioPath("*.yaml"))
	if err != nil || len(paths) == 0 {
		t.Fatalf("no example scenarios: %v", err)
	}
	out, err := runCLI(t, append([]string{"validate"}, paths...)...)
	if err != nil {
		t.Fatalf("validate error: %v\n%s", err, out)
	}
}

func TestRunCommand_RecordsRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	out, err := runCLI(t, "--db", db, "run", scenarioPath("donate-single.yaml"))
	if err != nil {
		t.Fatalf("run error: %v\n%s", err, out)
	}
	for _, want := range []string{"Scenario: donate-single (priority)", "  holder 40\n", "  high got a\n", "Units:", "context switches"} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "--db", db, "runs", "list")
	if err != nil {
		t.Fatalf("runs list error: %v", err)
	}
	if !strings.Contains(out, "donate-single") {
		t.Errorf("runs list output = %s", out)
	}

	st, err := store.NewSQLiteStore(db, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	runs, _, err := st.ListRuns(context.Background(), model.DefaultListOptions())
	st.Close()
	if err != nil || len(runs) != 1 {
		t.Fatalf("stored runs = %v, %v", runs, err)
	}
	id := runs[0].ID

	out, err = runCLI(t, "--db", db, "runs", "show", id)
	if err != nil {
		t.Fatalf("runs show error: %v", err)
	}
	if !strings.Contains(out, "Run:      "+id) || !strings.Contains(out, "  high got a") {
		t.Errorf("runs show output = %s", out)
	}

	out, err = runCLI(t, "--db", db, "runs", "events", id, "--kind", "donate")
	if err != nil {
		t.Fatalf("runs events error: %v", err)
	}
	if !strings.Contains(out, "holder") || strings.Contains(out, "switch") {
		t.Errorf("runs events output = %s", out)
	}

	if _, err := runCLI(t, "--db", db, "runs", "delete", id); err != nil {
		t.Fatalf("runs delete error: %v", err)
	}
	if _, err := runCLI(t, "--db", db, "runs", "show", id); err == nil {
		t.Error("runs show found a deleted run")
	}
}

func TestRunCommand_NoStoreJSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "unused.db")
	out, err := runCLI(t, "--db", db, "run", "--no-store", "--json", scenarioPath("donate-single.yaml"))
	if err != nil {
		t.Fatalf("run error: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"scenario": "donate-single"`) || !strings.Contains(out, `"holder 40"`) {
		t.Errorf("json output = %s", out)
	}
	if _, err := os.Stat(db); !os.IsNotExist(err) {
		t.Errorf("database created with --no-store: %v", err)
	}
}

func TestRunCommand_PolicyOverride(t *testing.T) {
	out, err := runCLI(t, "run", "--no-store", "--policy", "mlfqs", scenarioPath("donate-single.yaml"))
	if err != nil {
		t.Fatalf("run error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "(mlfqs)") || !strings.Contains(out, "Load avg:") {
		t.Errorf("output = %s", out)
	}

	if _, err := runCLI(t, "run", "--no-store", "--policy", "fifo", scenarioPath("donate-single.yaml")); err == nil {
		t.Error("run accepted --policy fifo")
	}
}

func TestRunCommand_Deadlock(t *testing.T) {
	out, err := runCLI(t, "run", "--no-store", "--trace", scenarioPath("deadlock.yaml"))
	if err == nil {
		t.Fatal("deadlocked run returned no error")
	}
	if !strings.Contains(err.Error(), "DEADLOCK") {
		t.Errorf("error = %v, want DEADLOCK", err)
	}
	if !strings.Contains(out, "Halted:") || !strings.Contains(out, "Trace:") {
		t.Errorf("report not printed:\n%s", out)
	}
}

func TestRunCommand_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ksched.yaml")
	if err := os.WriteFile(cfgPath, []byte("policy: mlfqs\nlog_level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, "--config", cfgPath, "run", "--no-store", scenarioPath("round-robin.yaml"))
	if err != nil {
		t.Fatalf("run error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "(mlfqs)") {
		t.Errorf("config policy not applied:\n%s", out)
	}

	if err := os.WriteFile(cfgPath, []byte("clock: sundial\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "--config", cfgPath, "version"); err == nil {
		t.Error("invalid config accepted")
	}
}

func TestSubmitAndStatus(t *testing.T) {
	url := startTestServer(t)

	out, err := runCLI(t, "--server", url, "submit", "--wait", "--poll", "10ms", scenarioPath("donate-single.yaml"))
	if err != nil {
		t.Fatalf("submit error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Run started: run_") || !strings.Contains(out, "(finished)") || !strings.Contains(out, "  high got a") {
		t.Errorf("submit output = %s", out)
	}
	id := strings.Fields(out[strings.Index(out, "run_"):])[0]

	out, err = runCLI(t, "--server", url, "status", id)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "Threads:") {
		t.Errorf("status output = %s", out)
	}

	out, err = runCLI(t, "--server", url, "threads")
	if err != nil {
		t.Fatalf("threads error: %v", err)
	}
	if !strings.Contains(out, "main") || !strings.Contains(out, "STATE") {
		t.Errorf("threads output = %s", out)
	}

	if _, err := runCLI(t, "--server", url, "status", "run_missing"); err == nil {
		t.Error("status found a missing run")
	}
}

func TestCancelCommand(t *testing.T) {
	url := startTestServer(t)
	spin := writeScenario(t, "name: spin\nthreads: [{name: spinner, steps: [{op: compute, ticks: 1099511627776}]}]\n")

	out, err := runCLI(t, "--server", url, "submit", spin)
	if err != nil {
		t.Fatalf("submit error: %v\n%s", err, out)
	}
	id := strings.Fields(out[strings.Index(out, "run_"):])[0]

	deadline := time.Now().Add(5 * time.Second)
	for {
		out, err = runCLI(t, "--server", url, "cancel", id)
		if err == nil || time.Now().After(deadline) {
			break
		}
	}
	if err != nil {
		t.Fatalf("cancel error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "halted at tick") || !strings.Contains(out, "canceled") {
		t.Errorf("cancel output = %s", out)
	}
}

func TestPolicyValue(t *testing.T) {
	var p model.Policy
	v := newPolicyValue(&p)
	if err := v.Set("mlfqs"); err != nil || p != model.PolicyMLFQS {
		t.Errorf("Set(mlfqs) = %v, policy %q", err, p)
	}
	if err := v.Set("lottery"); err == nil {
		t.Error("Set(lottery) accepted")
	}
	if v.String() != "mlfqs" || v.Type() != "policy" {
		t.Errorf("String, Type = %q, %q", v.String(), v.Type())
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{hundredths(273), "2.73"},
		{hundredths(5), "0.05"},
		{hundredths(-150), "-1.50"},
		{simulated(100), "1s"},
		{simulated(25), "250ms"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
