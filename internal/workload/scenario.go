// Package workload describes scheduler scenarios in YAML and runs them on a
// kernel. A scenario names the synchronization objects it uses and lists the
// units to create; each unit either follows a list of steps or runs a
// JavaScript body.
package workload

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"gopkg.in/yaml.v3"

	"github.com/me/ksched/pkg/model"
)

// Step operations.
const (
	OpAcquire     = "acquire"
	OpTryAcquire  = "try_acquire"
	OpRelease     = "release"
	OpDown        = "down"
	OpUp          = "up"
	OpWait        = "wait"
	OpSignal      = "signal"
	OpBroadcast   = "broadcast"
	OpSleep       = "sleep"
	OpMSleep      = "msleep"
	OpCompute     = "compute"
	OpYield       = "yield"
	OpSetPriority = "set_priority"
	OpSetNice     = "set_nice"
	OpLog         = "log"
	OpExit        = "exit"
)

// Scenario is a complete workload.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Policy      model.Policy   `yaml:"policy,omitempty"`
	Locks       []string       `yaml:"locks,omitempty"`
	Semaphores  map[string]int `yaml:"semaphores,omitempty"`
	Conds       []string       `yaml:"conds,omitempty"`
	Main        MainSpec       `yaml:"main,omitempty"`
	Threads     []ThreadSpec   `yaml:"threads"`
}

// MainSpec configures the initial unit, which creates the others.
type MainSpec struct {
	Priority *int   `yaml:"priority,omitempty"`
	Nice     int    `yaml:"nice,omitempty"`
	Steps    []Step `yaml:"steps,omitempty"`
	Script   string `yaml:"script,omitempty"`
}

// ThreadSpec describes one unit created by main.
type ThreadSpec struct {
	Name       string `yaml:"name"`
	Priority   *int   `yaml:"priority,omitempty"`
	Nice       int    `yaml:"nice,omitempty"`
	StartAfter int64  `yaml:"start_after,omitempty"` // ticks after boot
	Steps      []Step `yaml:"steps,omitempty"`
	Script     string `yaml:"script,omitempty"`
}

// Step is one operation of a unit body.
type Step struct {
	Op      string `yaml:"op"`
	Target  string `yaml:"target,omitempty"` // lock, semaphore or cond name
	Lock    string `yaml:"lock,omitempty"`   // lock paired with a cond
	Ticks   int64  `yaml:"ticks,omitempty"`
	Ms      int64  `yaml:"ms,omitempty"`
	Value   int    `yaml:"value,omitempty"`
	Message string `yaml:"message,omitempty"`
}

func (s Step) String() string {
	parts := []string{s.Op}
	if s.Target != "" {
		parts = append(parts, s.Target)
	}
	if s.Lock != "" {
		parts = append(parts, "with "+s.Lock)
	}
	return strings.Join(parts, " ")
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, model.NewKernelError(model.ErrInvalidScenarioCode, model.TIDError, "parse scenario: %v", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sc, nil
}

// Validate checks every name reference, operation and script before the
// kernel boots. Problems are reported together as INVALID_SCENARIO.
func (sc *Scenario) Validate() error {
	v := validator{
		locks: make(map[string]bool),
		semas: make(map[string]bool),
		conds: make(map[string]bool),
	}

	if sc.Policy != "" && !sc.Policy.Valid() {
		v.addf("policy: unknown policy %q", sc.Policy)
	}
	v.declare("lock", sc.Locks, v.locks)
	v.declare("cond", sc.Conds, v.conds)
	semaNames := make([]string, 0, len(sc.Semaphores))
	for name, value := range sc.Semaphores {
		semaNames = append(semaNames, name)
		if value < 0 {
			v.addf("semaphore %q: negative initial value %d", name, value)
		}
	}
	sort.Strings(semaNames)
	v.declare("semaphore", semaNames, v.semas)

	v.body("main", sc.Main.Steps, sc.Main.Script)
	if len(sc.Threads) == 0 && len(sc.Main.Steps) == 0 && sc.Main.Script == "" {
		v.addf("scenario has no units and no main body")
	}
	seen := map[string]bool{"main": true, "idle": true}
	for i, th := range sc.Threads {
		where := fmt.Sprintf("threads[%d]", i)
		switch {
		case th.Name == "":
			v.addf("%s: name is required", where)
		case seen[th.Name]:
			v.addf("%s: duplicate unit name %q", where, th.Name)
		case len(th.Name) > model.MaxNameLen:
			v.addf("%s: name %q longer than %d bytes", where, th.Name, model.MaxNameLen)
		default:
			where = th.Name
		}
		seen[th.Name] = true
		if th.StartAfter < 0 {
			v.addf("%s: negative start_after", where)
		}
		v.body(where, th.Steps, th.Script)
	}

	if len(v.problems) > 0 {
		return model.NewKernelError(model.ErrInvalidScenarioCode, model.TIDError, "%s", strings.Join(v.problems, "; "))
	}
	return nil
}

type validator struct {
	locks, semas, conds map[string]bool
	problems            []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) declare(kind string, names []string, into map[string]bool) {
	for _, name := range names {
		if name == "" {
			v.addf("%s with empty name", kind)
			continue
		}
		if v.locks[name] || v.semas[name] || v.conds[name] {
			v.addf("%s %q: name already declared", kind, name)
			continue
		}
		into[name] = true
	}
}

func (v *validator) body(where string, steps []Step, script string) {
	if len(steps) > 0 && script != "" {
		v.addf("%s: steps and script are mutually exclusive", where)
	}
	if script != "" {
		if _, err := goja.Compile(where, script, false); err != nil {
			v.addf("%s: script: %v", where, err)
		}
	}
	for i, st := range steps {
		if where == "main" && st.Op == OpExit {
			v.addf("main.steps[%d]: main cannot exit before joining its units", i)
			continue
		}
		v.step(fmt.Sprintf("%s.steps[%d]", where, i), st)
	}
}

func (v *validator) step(where string, st Step) {
	need := func(kind string, names map[string]bool, name string) {
		if !names[name] {
			v.addf("%s: %s: unknown %s %q", where, st.Op, kind, name)
		}
	}
	switch st.Op {
	case OpAcquire, OpTryAcquire, OpRelease:
		need("lock", v.locks, st.Target)
	case OpDown, OpUp:
		need("semaphore", v.semas, st.Target)
	case OpWait, OpSignal, OpBroadcast:
		need("cond", v.conds, st.Target)
		need("lock", v.locks, st.Lock)
	case OpSleep, OpCompute:
		if st.Ticks < 0 {
			v.addf("%s: %s: negative ticks", where, st.Op)
		}
	case OpMSleep:
		if st.Ms < 0 {
			v.addf("%s: msleep: negative ms", where)
		}
	case OpYield, OpSetPriority, OpSetNice, OpLog, OpExit:
	case "":
		v.addf("%s: op is required", where)
	default:
		v.addf("%s: unknown op %q", where, st.Op)
	}
}
