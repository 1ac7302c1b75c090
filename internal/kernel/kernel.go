// Package kernel is the scheduling and synchronization core of a single-CPU,
// preemptible kernel.
//
// Every execution unit runs on its own goroutine, but only the unit that holds
// the simulated CPU executes; a context switch hands the CPU to the next unit
// through that unit's resume channel. Disabling interrupts acquires the CPU
// mutex, so all kernel state (ready and sleep queues, wait lists, priorities,
// lock ownership) is mutated by one goroutine at a time. The mutex travels with
// the CPU across context switches and is released by whichever unit re-enables
// interrupts.
package kernel

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/me/ksched/pkg/fixedpoint"
	"github.com/me/ksched/pkg/model"
)

// Config holds boot-time kernel configuration.
type Config struct {
	// MLFQS selects the multi-level feedback queue scheduler instead of
	// priority scheduling with donation. It cannot change after boot.
	MLFQS bool
	// MaxThreads bounds the number of live control blocks.
	MaxThreads int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxThreads: 1024}
}

// Policy returns the policy selected by the config.
func (c Config) Policy() model.Policy {
	if c.MLFQS {
		return model.PolicyMLFQS
	}
	return model.PolicyPriority
}

// Option configures optional Kernel dependencies.
type Option func(*Kernel)

// WithClock sets the timer interrupt source. The default is a VirtualClock.
func WithClock(c Clock) Option {
	return func(k *Kernel) {
		k.clock = c
	}
}

// WithTracer sets the receiver of scheduler trace events.
func WithTracer(t Tracer) Option {
	return func(k *Kernel) {
		k.tracer = t
	}
}

// MainFunc is the body of the initial unit. The kernel powers off when it returns.
type MainFunc func(k *Kernel)

// Kernel owns every execution unit and all scheduling state.
type Kernel struct {
	cfg    Config
	logger *slog.Logger
	clock  Clock
	tracer Tracer

	// cpu is held exactly while interrupts are off.
	cpu           sync.Mutex
	level         IntrLevel
	inIntr        bool
	yieldOnReturn bool

	threads map[model.TID]*Thread
	all     []*Thread // creation order
	reaped  map[model.TID]int
	nextTID model.TID
	running *Thread
	initial *Thread
	idle    *Thread

	ready    runQueue
	sleepers sleepQueue

	ticks   int64
	slice   int
	loadAvg fixedpoint.Value

	idleTicks   int64
	kernelTicks int64
	switches    int64
	created     int64
	exited      int64
	seq         int64

	halted   chan struct{}
	haltOnce sync.Once
	runOnce  sync.Once
	err      error
	final    inspection
}

type inspection struct {
	stats   model.Stats
	threads []model.ThreadInfo
}

// New creates a kernel that has not booted yet.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Kernel {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = DefaultConfig().MaxThreads
	}
	k := &Kernel{
		cfg:     cfg,
		logger:  logger.With("component", "kernel"),
		level:   IntrOn,
		threads: make(map[model.TID]*Thread),
		reaped:  make(map[model.TID]int),
		nextTID: 1,
		halted:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.clock == nil {
		k.clock = NewVirtualClock()
	}
	return k
}

// Run boots a kernel and runs main as its initial unit.
func Run(ctx context.Context, cfg Config, logger *slog.Logger, main MainFunc, opts ...Option) error {
	return New(cfg, logger, opts...).Run(ctx, main)
}

// Run boots the kernel and blocks until it powers off: main returned, every
// unit finished, a deadlock or kernel panic was detected, or ctx was cancelled.
// It returns nil on a clean power off.
func (k *Kernel) Run(ctx context.Context, main MainFunc) error {
	started := false
	k.runOnce.Do(func() { started = true })
	if !started {
		return model.NewKernelError(model.ErrAssertionCode, model.TIDError, "kernel already booted")
	}

	k.logger.Info("kernel booting", "policy", k.cfg.Policy(), "max_threads", k.cfg.MaxThreads)
	k.clock.Start()
	go k.boot(main)

	select {
	case <-k.halted:
	case <-ctx.Done():
		k.Shutdown(ctx.Err())
		<-k.halted
	}
	k.clock.Stop()

	if k.err != nil {
		k.logger.Error("kernel halted", "error", k.err, "ticks", k.final.stats.Ticks)
	} else {
		k.logger.Info("kernel powered off", "ticks", k.final.stats.Ticks)
	}
	return k.err
}

// boot turns the calling goroutine into the initial unit, starts the idle
// unit and then runs main.
func (k *Kernel) boot(main MainFunc) {
	k.IntrDisable()
	t := k.newThread("main", model.PriDefault)
	t.state = model.ThreadRunning
	k.running = t
	k.initial = t
	defer k.recoverUnit(t)

	started := k.NewSemaphore("idle_started", 0)
	if _, err := k.spawn("idle", model.PriMin, k.idleLoop, started, true); err != nil {
		k.powerOff(err)
	}
	k.IntrEnable()
	started.Down()

	main(k)
	k.powerOff(nil)
}

// Shutdown powers the kernel off from outside any unit. The running unit stops
// at its next kernel entry.
func (k *Kernel) Shutdown(err error) {
	k.withCPU(func() {
		k.halt(err)
	})
}

// Done is closed once the kernel has powered off.
func (k *Kernel) Done() <-chan struct{} {
	return k.halted
}

// Err returns the reason the kernel halted, nil for a clean power off.
func (k *Kernel) Err() error {
	select {
	case <-k.halted:
		return k.err
	default:
		return nil
	}
}

// Policy returns the boot-time scheduling policy.
func (k *Kernel) Policy() model.Policy {
	return k.cfg.Policy()
}

// halt records err and the final state, then wakes everything waiting on the
// power-off signal. The caller must hold the CPU.
func (k *Kernel) halt(err error) {
	k.haltOnce.Do(func() {
		k.err = err
		k.final = k.inspect()
		close(k.halted)
	})
}

// powerOff halts from a unit, releases the CPU so parked units can observe
// the halt, and terminates the calling goroutine.
func (k *Kernel) powerOff(err error) {
	if k.level == IntrOn {
		k.cpu.Lock()
		k.level = IntrOff
	}
	k.halt(err)
	k.level = IntrOn
	k.cpu.Unlock()
	runtime.Goexit()
}

// panicf reports an internal invariant violation. It is fatal to the kernel.
func (k *Kernel) panicf(format string, args ...any) {
	tid := model.TIDError
	if k.running != nil {
		tid = k.running.tid
	}
	err := model.NewKernelError(model.ErrAssertionCode, tid, format, args...)
	k.logger.Error("kernel panic", "error", err)
	k.powerOff(err)
}

func (k *Kernel) assertf(cond bool, format string, args ...any) {
	if !cond {
		k.panicf(format, args...)
	}
}

// recoverUnit converts a Go panic on a unit's goroutine into a kernel panic.
func (k *Kernel) recoverUnit(t *Thread) {
	r := recover()
	if r == nil {
		return
	}
	err := model.NewKernelError(model.ErrAssertionCode, t.tid, "unit %q panicked: %v", t.name, r)
	k.logger.Error("kernel panic", "error", err)
	if k.level == IntrOff {
		k.level = IntrOn
		k.cpu.Unlock()
	}
	k.withCPU(func() {
		k.halt(err)
	})
}

// withCPU runs fn while holding the CPU from a goroutine that is not a unit.
// It returns false if the kernel halted first.
func (k *Kernel) withCPU(fn func()) bool {
	for {
		select {
		case <-k.halted:
			return false
		default:
		}
		if k.cpu.TryLock() {
			fn()
			k.cpu.Unlock()
			return true
		}
		time.Sleep(time.Millisecond)
	}
}
