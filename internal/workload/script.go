package workload

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/me/ksched/internal/kernel"
)

// runScript executes a JavaScript unit body. The script drives the kernel
// through plain functions:
//
//	acquire(lock) tryAcquire(lock) release(lock)
//	down(sema) up(sema)
//	wait(cond, lock) signal(cond, lock) broadcast(cond, lock)
//	sleep(ticks) msleep(ms) compute(ticks) yield() exit()
//	setPriority(p) setNice(n) log(...)
//	priority() basePriority() nice() recentCPU() loadAvg() ticks() name() tid()
func (u *unit) runScript(name, src string) error {
	vm := goja.New()
	s := &scriptEnv{unit: u, vm: vm}
	for fn, impl := range s.bindings() {
		if err := vm.Set(fn, impl); err != nil {
			return fmt.Errorf("bind %s: %w", fn, err)
		}
	}
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if _, err := vm.RunProgram(prog); err != nil {
		return fmt.Errorf("JavaScript error: %w", err)
	}
	return nil
}

type scriptEnv struct {
	*unit
	vm *goja.Runtime
}

type native = func(goja.FunctionCall) goja.Value

func (s *scriptEnv) bindings() map[string]native {
	k := s.k
	void := func(f func(goja.FunctionCall)) native {
		return func(call goja.FunctionCall) goja.Value {
			f(call)
			return goja.Undefined()
		}
	}
	getter := func(f func() int64) native {
		return func(goja.FunctionCall) goja.Value {
			return s.vm.ToValue(f())
		}
	}

	return map[string]native{
		"acquire":    void(func(c goja.FunctionCall) { s.lock(c, 0).Acquire() }),
		"release":    void(func(c goja.FunctionCall) { s.lock(c, 0).Release() }),
		"tryAcquire": func(c goja.FunctionCall) goja.Value { return s.vm.ToValue(s.lock(c, 0).TryAcquire()) },
		"down":       void(func(c goja.FunctionCall) { s.sema(c, 0).Down() }),
		"up":         void(func(c goja.FunctionCall) { s.sema(c, 0).Up() }),
		"wait":       void(func(c goja.FunctionCall) { s.cond(c, 0).Wait(s.lock(c, 1)) }),
		"signal":     void(func(c goja.FunctionCall) { s.cond(c, 0).Signal(s.lock(c, 1)) }),
		"broadcast":  void(func(c goja.FunctionCall) { s.cond(c, 0).Broadcast(s.lock(c, 1)) }),
		"sleep":      void(func(c goja.FunctionCall) { k.Sleep(c.Argument(0).ToInteger()) }),
		"msleep":     void(func(c goja.FunctionCall) { k.MSleep(c.Argument(0).ToInteger()) }),
		"compute":    void(func(c goja.FunctionCall) { k.Compute(c.Argument(0).ToInteger()) }),
		"yield":      void(func(goja.FunctionCall) { k.Yield() }),
		"exit":       void(func(goja.FunctionCall) { k.Exit() }),
		"setPriority": void(func(c goja.FunctionCall) {
			k.SetPriority(int(c.Argument(0).ToInteger()))
		}),
		"setNice": void(func(c goja.FunctionCall) {
			k.SetNice(int(c.Argument(0).ToInteger()))
		}),
		"log": void(func(c goja.FunctionCall) {
			parts := make([]string, len(c.Arguments))
			for i, a := range c.Arguments {
				parts[i] = a.String()
			}
			k.Printf("%s", s.expand(strings.Join(parts, " ")))
		}),
		"priority":     getter(func() int64 { return int64(k.Priority()) }),
		"basePriority": getter(func() int64 { return int64(k.BasePriority()) }),
		"nice":         getter(func() int64 { return int64(k.Nice()) }),
		"recentCPU":    getter(func() int64 { return int64(k.RecentCPU()) }),
		"loadAvg":      getter(func() int64 { return int64(k.LoadAvg()) }),
		"ticks":        getter(k.Ticks),
		"tid":          getter(func() int64 { return int64(k.CurrentTID()) }),
		"name": func(goja.FunctionCall) goja.Value {
			return s.vm.ToValue(k.CurrentName())
		},
	}
}

// The lookups throw a JavaScript TypeError for unknown names.

func (s *scriptEnv) lock(c goja.FunctionCall, i int) *kernel.Lock {
	name := c.Argument(i).String()
	l, ok := s.objs.locks[name]
	if !ok {
		panic(s.vm.NewTypeError("unknown lock %q", name))
	}
	return l
}

func (s *scriptEnv) sema(c goja.FunctionCall, i int) *kernel.Semaphore {
	name := c.Argument(i).String()
	sem, ok := s.objs.semas[name]
	if !ok {
		panic(s.vm.NewTypeError("unknown semaphore %q", name))
	}
	return sem
}

func (s *scriptEnv) cond(c goja.FunctionCall, i int) *kernel.Cond {
	name := c.Argument(i).String()
	cv, ok := s.objs.conds[name]
	if !ok {
		panic(s.vm.NewTypeError("unknown cond %q", name))
	}
	return cv
}
