package kernel

import (
	"fmt"
	"sync"

	"github.com/me/ksched/pkg/model"
)

// Tracer receives scheduler events. Trace is called with interrupts off, so
// implementations must not call back into the kernel.
type Tracer interface {
	Trace(ev model.Event)
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(ev model.Event)

func (f TracerFunc) Trace(ev model.Event) { f(ev) }

// emit stamps and forwards an event about t. Interrupts must be off.
func (k *Kernel) emit(kind model.EventKind, t *Thread, detail string) {
	if k.tracer == nil {
		return
	}
	k.seq++
	ev := model.Event{
		Seq:    k.seq,
		Tick:   k.ticks,
		Kind:   kind,
		Detail: detail,
	}
	if t != nil {
		ev.TID, ev.Name, ev.Priority = t.tid, t.name, t.priority
	}
	k.tracer.Trace(ev)
}

// Printf records a log line from the running unit in the trace and the kernel log.
func (k *Kernel) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	old := k.IntrDisable()
	cur := k.running
	k.logger.Info(msg, "tid", cur.tid, "thread", cur.name, "tick", k.ticks)
	k.emit(model.EventLog, cur, msg)
	k.IntrSetLevel(old)
}

// Recorder is a Tracer that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Trace(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

// Since returns a copy of the events recorded after the first n.
func (r *Recorder) Since(n int) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n >= len(r.events) {
		return nil
	}
	return append([]model.Event(nil), r.events[max(n, 0):]...)
}

// Filter returns the recorded events of the given kinds, in order.
func (r *Recorder) Filter(kinds ...model.EventKind) []model.Event {
	var out []model.Event
	for _, ev := range r.Events() {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Logs returns the messages of the recorded log events, in order.
func (r *Recorder) Logs() []string {
	var out []string
	for _, ev := range r.Filter(model.EventLog) {
		out = append(out, ev.Detail)
	}
	return out
}

// Tee forwards every event to each of tracers.
func Tee(tracers ...Tracer) Tracer {
	return TracerFunc(func(ev model.Event) {
		for _, t := range tracers {
			t.Trace(ev)
		}
	})
}
