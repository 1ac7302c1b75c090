package workload

import (
	"strconv"
	"strings"

	"github.com/me/ksched/internal/kernel"
)

// objects holds the synchronization objects of one run, by name.
type objects struct {
	locks map[string]*kernel.Lock
	semas map[string]*kernel.Semaphore
	conds map[string]*kernel.Cond
}

func newObjects(k *kernel.Kernel, sc *Scenario) *objects {
	o := &objects{
		locks: make(map[string]*kernel.Lock),
		semas: make(map[string]*kernel.Semaphore),
		conds: make(map[string]*kernel.Cond),
	}
	for _, name := range sc.Locks {
		o.locks[name] = k.NewLock(name)
	}
	for name, value := range sc.Semaphores {
		o.semas[name] = k.NewSemaphore(name, value)
	}
	for _, name := range sc.Conds {
		o.conds[name] = k.NewCond(name)
	}
	return o
}

// unit runs one body on the kernel, on behalf of the running unit.
type unit struct {
	k    *kernel.Kernel
	objs *objects
}

func (u *unit) runSteps(steps []Step) {
	for _, st := range steps {
		u.exec(st)
	}
}

// exec performs one step. Names were checked by Validate.
func (u *unit) exec(st Step) {
	k := u.k
	switch st.Op {
	case OpAcquire:
		u.objs.locks[st.Target].Acquire()
	case OpTryAcquire:
		if !u.objs.locks[st.Target].TryAcquire() {
			k.Printf("%s busy", st.Target)
		}
	case OpRelease:
		u.objs.locks[st.Target].Release()
	case OpDown:
		u.objs.semas[st.Target].Down()
	case OpUp:
		u.objs.semas[st.Target].Up()
	case OpWait:
		u.objs.conds[st.Target].Wait(u.objs.locks[st.Lock])
	case OpSignal:
		u.objs.conds[st.Target].Signal(u.objs.locks[st.Lock])
	case OpBroadcast:
		u.objs.conds[st.Target].Broadcast(u.objs.locks[st.Lock])
	case OpSleep:
		k.Sleep(st.Ticks)
	case OpMSleep:
		k.MSleep(st.Ms)
	case OpCompute:
		k.Compute(st.Ticks)
	case OpYield:
		k.Yield()
	case OpSetPriority:
		k.SetPriority(st.Value)
	case OpSetNice:
		k.SetNice(st.Value)
	case OpLog:
		k.Printf("%s", u.expand(st.Message))
	case OpExit:
		k.Exit()
	}
}

// expand substitutes the running unit's scheduling attributes into msg.
//
//	{name} {tid} {priority} {base_priority} {nice} {recent_cpu} {load_avg} {ticks}
func (u *unit) expand(msg string) string {
	if !strings.Contains(msg, "{") {
		return msg
	}
	k := u.k
	return strings.NewReplacer(
		"{name}", k.CurrentName(),
		"{tid}", strconv.Itoa(int(k.CurrentTID())),
		"{priority}", strconv.Itoa(k.Priority()),
		"{base_priority}", strconv.Itoa(k.BasePriority()),
		"{nice}", strconv.Itoa(k.Nice()),
		"{recent_cpu}", strconv.Itoa(k.RecentCPU()),
		"{load_avg}", strconv.Itoa(k.LoadAvg()),
		"{ticks}", strconv.FormatInt(k.Ticks(), 10),
	).Replace(msg)
}
