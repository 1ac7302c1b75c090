package workload

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/me/ksched/internal/kernel"
	"github.com/me/ksched/pkg/model"
)

// Options configures how a scenario runs.
type Options struct {
	// Clock is the timer interrupt source. The default is a virtual clock.
	Clock kernel.Clock
	// Tracer receives every event as it happens, in addition to the report.
	Tracer kernel.Tracer
}

// ThreadResult is the outcome of one unit created by main.
type ThreadResult struct {
	Name       string    `json:"name"`
	TID        model.TID `json:"tid"`
	ExitStatus int       `json:"exit_status"`
	Error      string    `json:"error,omitempty"`
}

// Report is everything observed during one run.
type Report struct {
	RunID      string             `json:"run_id"`
	Scenario   string             `json:"scenario"`
	Policy     model.Policy       `json:"policy"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Output     []string           `json:"output"`
	Results    []ThreadResult     `json:"results"`
	Stats      model.Stats        `json:"stats"`
	Threads    []model.ThreadInfo `json:"threads"`
	Events     []model.Event      `json:"-"`
	Err        error              `json:"-"`
}

// Run returns a model.Run summarising r.
func (r *Report) Run() *model.Run {
	finished := r.FinishedAt
	run := &model.Run{
		ID:         r.RunID,
		Scenario:   r.Scenario,
		Policy:     r.Policy,
		StartedAt:  r.StartedAt,
		FinishedAt: &finished,
		Ticks:      r.Stats.Ticks,
		Switches:   r.Stats.Switches,
		LoadAvg:    r.Stats.LoadAvg,
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	return run
}

// Session is a scenario running on its own kernel.
type Session struct {
	id      string
	sc      *Scenario
	k       *kernel.Kernel
	rec     *kernel.Recorder
	logger  *slog.Logger
	results []ThreadResult
	started time.Time
	done    chan struct{}
	report  *Report
}

// Start boots a kernel for sc and runs the scenario in the background.
// cfg carries the policy already resolved by the caller.
func Start(ctx context.Context, sc *Scenario, cfg kernel.Config, logger *slog.Logger, opts Options) *Session {
	s := &Session{
		id:      "run_" + uuid.New().String(),
		sc:      sc,
		rec:     kernel.NewRecorder(),
		logger:  logger.With("component", "workload", "scenario", sc.Name),
		results: make([]ThreadResult, len(sc.Threads)),
		done:    make(chan struct{}),
	}
	var tracer kernel.Tracer = s.rec
	if opts.Tracer != nil {
		tracer = kernel.Tee(s.rec, opts.Tracer)
	}
	kopts := []kernel.Option{kernel.WithTracer(tracer)}
	if opts.Clock != nil {
		kopts = append(kopts, kernel.WithClock(opts.Clock))
	}
	s.k = kernel.New(cfg, logger, kopts...)

	s.started = time.Now().UTC()
	s.logger.Info("scenario starting", "run_id", s.id, "policy", cfg.Policy(), "threads", len(sc.Threads))
	go func() {
		defer close(s.done)
		err := s.k.Run(ctx, s.main)
		s.report = s.collect(cfg.Policy(), err)
	}()
	return s
}

// Run executes sc to completion. The returned error is the reason the kernel
// halted abnormally, if any; the report is returned either way.
func Run(ctx context.Context, sc *Scenario, cfg kernel.Config, logger *slog.Logger, opts Options) (*Report, error) {
	return Start(ctx, sc, cfg, logger, opts).Wait()
}

// ID returns the run identifier.
func (s *Session) ID() string { return s.id }

// Kernel returns the kernel the scenario runs on, for live inspection.
func (s *Session) Kernel() *kernel.Kernel { return s.k }

// Scenario returns the scenario being run.
func (s *Session) Scenario() *Scenario { return s.sc }

// StartedAt returns when the kernel was booted.
func (s *Session) StartedAt() time.Time { return s.started }

// Events returns the trace recorded so far.
func (s *Session) Events() []model.Event { return s.rec.Events() }

// EventsSince returns the events recorded after the first n.
func (s *Session) EventsSince(n int) []model.Event { return s.rec.Since(n) }

// Output returns the log lines printed so far.
func (s *Session) Output() []string { return s.rec.Logs() }

// Finished reports whether the report is ready.
func (s *Session) Finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the run has finished and its report is ready.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the run finishes.
func (s *Session) Wait() (*Report, error) {
	<-s.done
	return s.report, s.report.Err
}

// main is the body of the initial unit.
func (s *Session) main(k *kernel.Kernel) {
	u := &unit{k: k, objs: newObjects(k, s.sc)}
	if p := s.sc.Main.Priority; p != nil {
		k.SetPriority(*p)
	}
	k.SetNice(s.sc.Main.Nice)

	// Units start in start_after order, ties in declaration order.
	order := make([]int, len(s.sc.Threads))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.sc.Threads[order[a]].StartAfter < s.sc.Threads[order[b]].StartAfter
	})

	created := make([]bool, len(s.sc.Threads))
	for _, i := range order {
		spec := s.sc.Threads[i]
		if d := spec.StartAfter - k.Ticks(); d > 0 {
			k.Sleep(d)
		}
		priority := model.PriDefault
		if spec.Priority != nil {
			priority = *spec.Priority
		}
		res := &s.results[i]
		res.Name = spec.Name
		tid, err := k.Create(spec.Name, priority, func(any) {
			k.SetNice(spec.Nice)
			if err := s.body(u, spec.Name, spec.Steps, spec.Script); err != nil {
				res.Error = err.Error()
			}
		}, nil)
		res.TID = tid
		if err != nil {
			res.Error = err.Error()
			res.ExitStatus = -1
			continue
		}
		created[i] = true
	}

	if err := s.body(u, "main", s.sc.Main.Steps, s.sc.Main.Script); err != nil {
		s.logger.Warn("main body failed", "error", err)
	}

	for i := range s.results {
		if created[i] {
			s.reap(k, &s.results[i])
		}
	}
}

// reap waits for the unit behind res and records its exit status.
func (s *Session) reap(k *kernel.Kernel, res *ThreadResult) {
	status, ok := k.Join(res.TID)
	res.ExitStatus = status
	if ok {
		return
	}
	s.logger.Warn("unit has no exit status", "thread", res.Name, "tid", res.TID)
	if res.Error == "" {
		res.Error = fmt.Sprintf("no unit with tid %d", res.TID)
	}
}

func (s *Session) body(u *unit, name string, steps []Step, script string) error {
	if script == "" {
		u.runSteps(steps)
		return nil
	}
	if err := u.runScript(name, script); err != nil {
		u.k.Printf("%s: %v", name, err)
		return err
	}
	return nil
}

func (s *Session) collect(policy model.Policy, err error) *Report {
	stats, threads := s.k.Inspect()
	rep := &Report{
		RunID:      s.id,
		Scenario:   s.sc.Name,
		Policy:     policy,
		StartedAt:  s.started,
		FinishedAt: time.Now().UTC(),
		Output:     s.rec.Logs(),
		Results:    s.results,
		Stats:      stats,
		Threads:    threads,
		Events:     s.rec.Events(),
		Err:        err,
	}
	if err != nil {
		s.logger.Error("scenario failed", "run_id", s.id, "error", err, "ticks", stats.Ticks)
	} else {
		s.logger.Info("scenario finished", "run_id", s.id, "ticks", stats.Ticks, "switches", stats.Switches)
	}
	return rep
}

// ResolvePolicy picks the scheduling policy: an explicit override first, then
// the scenario's own policy, then the configured default.
func ResolvePolicy(override model.Policy, sc *Scenario, def model.Policy) model.Policy {
	switch {
	case override != "":
		return override
	case sc.Policy != "":
		return sc.Policy
	default:
		return def
	}
}
