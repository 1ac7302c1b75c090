package kernel

import (
	"container/list"
	"fmt"
	"runtime"
	"strings"

	"github.com/me/ksched/pkg/fixedpoint"
	"github.com/me/ksched/pkg/model"
)

// ThreadFunc is the body of an execution unit.
type ThreadFunc func(aux any)

// membership records which collection a unit is parked in. A unit is in at
// most one at a time.
type membership int

const (
	inNone membership = iota
	inReady
	inSleep
	inWait
)

func (m membership) String() string {
	switch m {
	case inReady:
		return "ready"
	case inSleep:
		return "sleep"
	case inWait:
		return "wait"
	}
	return "none"
}

// Thread is the control block of an execution unit. The kernel owns it for
// the unit's whole lifetime.
type Thread struct {
	k     *Kernel
	tid   model.TID
	name  string
	state model.ThreadState

	basePriority int
	priority     int // effective, >= basePriority under priority scheduling
	nice         int
	recentCPU    fixedpoint.Value

	wakeTick  int64
	waitingOn *Lock
	donors    []model.TID

	exitStatus int
	exitSema   *Semaphore
	joiners    int

	queue  membership
	elem   *list.Element
	bucket int

	fn     ThreadFunc
	aux    any
	resume chan *Thread
}

// TID returns the unit's identifier.
func (t *Thread) TID() model.TID { return t.tid }

// Name returns the unit's name.
func (t *Thread) Name() string { return t.name }

func (t *Thread) String() string {
	return fmt.Sprintf("%s(%d)", t.name, t.tid)
}

// newThread allocates and registers a control block in the BLOCKED state.
// Interrupts must be off.
func (k *Kernel) newThread(name string, priority int) *Thread {
	t := &Thread{
		k:            k,
		tid:          k.nextTID,
		name:         model.TruncateName(name),
		state:        model.ThreadBlocked,
		basePriority: model.ClampPriority(priority),
		nice:         model.NiceDefault,
		resume:       make(chan *Thread, 1),
	}
	t.priority = t.basePriority
	t.exitSema = &Semaphore{k: k, name: t.name + ".exit"}
	if k.cfg.MLFQS {
		t.priority = mlfqsPriority(t.recentCPU, t.nice)
	}
	k.nextTID++
	k.threads[t.tid] = t
	k.all = append(k.all, t)
	return t
}

// lookup resolves an identifier through the registry.
func (k *Kernel) lookup(tid model.TID) *Thread {
	return k.threads[tid]
}

// Create starts a new unit running fn(aux) and returns its identifier. The
// unit is READY on return; if it outranks the caller, the caller yields first.
// When no control block can be allocated, Create returns model.TIDError and
// model.ErrAllocationExhausted.
func (k *Kernel) Create(name string, priority int, fn ThreadFunc, aux any) (model.TID, error) {
	return k.spawn(name, priority, fn, aux, false)
}

// spawn creates a unit. The idle unit keeps PriMin under every policy and is
// never scheduled by priority once it has started.
func (k *Kernel) spawn(name string, priority int, fn ThreadFunc, aux any, idle bool) (model.TID, error) {
	k.assertf(fn != nil, "create %q with nil function", name)
	old := k.IntrDisable()
	if len(k.threads) >= k.cfg.MaxThreads {
		k.IntrSetLevel(old)
		k.logger.Warn("thread allocation exhausted", "name", name, "max_threads", k.cfg.MaxThreads)
		return model.TIDError, model.ErrAllocationExhausted
	}

	t := k.newThread(name, priority)
	if idle {
		t.basePriority, t.priority = model.PriMin, model.PriMin
		k.idle = t
	}
	t.fn, t.aux = fn, aux
	k.created++
	go t.start()

	k.logger.Debug("thread created", "tid", t.tid, "name", t.name, "priority", t.priority)
	k.emit(model.EventCreate, t, "")
	k.Unblock(t)
	k.preempt()
	k.IntrSetLevel(old)
	return t.tid, nil
}

// start is the goroutine body of every unit except the initial one.
func (t *Thread) start() {
	k := t.k
	defer k.recoverUnit(t)
	prev := t.park()
	k.tail(prev)
	k.IntrEnable()
	t.fn(t.aux)
	k.exit(0)
}

// park waits until the unit is scheduled and returns the unit that ran before it.
func (t *Thread) park() *Thread {
	select {
	case prev := <-t.resume:
		select {
		case <-t.k.halted:
			runtime.Goexit()
		default:
		}
		return prev
	case <-t.k.halted:
		runtime.Goexit()
		return nil
	}
}

// Current returns the running unit.
func (k *Kernel) Current() *Thread {
	return k.running
}

// CurrentTID returns the running unit's identifier.
func (k *Kernel) CurrentTID() model.TID {
	return k.running.tid
}

// CurrentName returns the running unit's name.
func (k *Kernel) CurrentName() string {
	return k.running.name
}

// Block puts the running unit to sleep until Unblock is called on it. The
// caller must have turned interrupts off and parked itself on some wait
// collection.
func (k *Kernel) Block() {
	k.assertf(!k.inIntr, "block inside the interrupt handler")
	k.assertf(k.level == IntrOff, "block with interrupts on")
	cur := k.running
	k.setState(cur, model.ThreadBlocked)
	if cur != k.idle {
		k.emit(model.EventBlock, cur, "")
	}
	k.schedule()
}

// Unblock makes a BLOCKED unit READY. It does not preempt the running unit,
// so it may be called from the interrupt handler.
func (k *Kernel) Unblock(t *Thread) {
	old := k.IntrDisable()
	k.assertf(t.state == model.ThreadBlocked, "unblock %s in state %s", t, t.state)
	k.setState(t, model.ThreadReady)
	k.ready.push(k, t)
	k.emit(model.EventUnblock, t, "")
	k.IntrSetLevel(old)
}

// Yield gives up the CPU. The running unit stays READY and is requeued behind
// the units of its own priority.
func (k *Kernel) Yield() {
	k.assertf(!k.inIntr, "yield inside the interrupt handler")
	old := k.IntrDisable()
	cur := k.running
	k.setState(cur, model.ThreadReady)
	if cur != k.idle {
		k.ready.push(k, cur)
		k.emit(model.EventYield, cur, "")
	}
	k.schedule()
	k.IntrSetLevel(old)
}

// Exit terminates the running unit. It does not return.
func (k *Kernel) Exit() {
	k.exit(0)
	k.zombie()
}

// zombie parks the goroutine of a unit that switched away for the last time.
// Deferred calls on its stack must not run while another unit owns the CPU,
// so it only unwinds after power off.
func (k *Kernel) zombie() {
	<-k.halted
	runtime.Goexit()
}

// exit marks the running unit DYING and switches away for the last time. Its
// control block is reclaimed by the next unit to run.
func (k *Kernel) exit(status int) {
	k.assertf(!k.inIntr, "exit inside the interrupt handler")
	k.IntrDisable()
	cur := k.running
	k.assertf(cur != k.idle, "idle unit exited")
	cur.exitStatus = status
	k.stripDonor(cur)
	for ; cur.joiners > 0; cur.joiners-- {
		cur.exitSema.up()
	}
	k.setState(cur, model.ThreadDying)
	k.exited++
	k.logger.Debug("thread exiting", "tid", cur.tid, "name", cur.name, "status", status)
	k.emit(model.EventExit, cur, fmt.Sprintf("status %d", status))
	k.schedule()
}

// Join waits for the unit tid to exit and returns its exit status. It
// returns false if tid never named a unit.
func (k *Kernel) Join(tid model.TID) (int, bool) {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	if status, ok := k.reaped[tid]; ok {
		return status, true
	}
	t := k.lookup(tid)
	if t == nil {
		return -1, false
	}
	k.assertf(t != k.running, "%s joined itself", t)
	if t.state != model.ThreadDying {
		t.joiners++
		t.exitSema.Down()
	}
	return t.exitStatus, true
}

// kill terminates the running unit for misusing a synchronization primitive.
func (k *Kernel) kill(err *model.KernelError) {
	cur := k.running
	k.logger.Warn("killing thread", "tid", cur.tid, "name", cur.name, "error", err)
	k.emit(model.EventMisuse, cur, err.Message)
	k.exit(-1)
	k.zombie()
}

// setState moves t to state s, enforcing the lifecycle.
func (k *Kernel) setState(t *Thread, s model.ThreadState) {
	if t != k.idle && t.state != s && !t.state.CanTransitionTo(s) {
		k.panicf("%v", &model.InvalidTransitionError{TID: t.tid, From: t.state, To: s})
	}
	t.state = s
}

// preempt yields if a ready unit outranks the running one.
func (k *Kernel) preempt() {
	top := k.ready.max()
	if top < 0 {
		return
	}
	if k.running == k.idle || top > k.running.priority {
		k.yieldOnReturnOrNow()
	}
}

// nextToRun picks the highest-priority ready unit, or idle.
func (k *Kernel) nextToRun() *Thread {
	if t := k.ready.pop(); t != nil {
		return t
	}
	k.assertf(k.idle != nil, "nothing to run before the idle unit started")
	return k.idle
}

// schedule switches to the next unit. Interrupts must be off and the running
// unit must already have left the RUNNING state. It returns when the caller
// is scheduled again, or immediately for a DYING caller.
func (k *Kernel) schedule() {
	cur := k.running
	k.assertf(k.level == IntrOff, "schedule with interrupts on")
	k.assertf(cur.state != model.ThreadRunning, "schedule from running unit %s", cur)

	next := k.nextToRun()
	k.setState(next, model.ThreadRunning)
	k.running = next
	k.slice = 0
	if cur == next {
		return
	}

	k.switches++
	k.emit(model.EventSwitch, next, "from "+cur.name)
	dying := cur.state == model.ThreadDying
	next.resume <- cur
	if dying {
		return
	}
	prev := cur.park()
	k.tail(prev)
}

// tail completes a switch on the incoming unit: a DYING predecessor has
// stopped executing and can be reclaimed.
func (k *Kernel) tail(prev *Thread) {
	if prev != nil && prev.state == model.ThreadDying {
		k.destroy(prev)
	}
}

func (k *Kernel) destroy(t *Thread) {
	k.reaped[t.tid] = t.exitStatus
	delete(k.threads, t.tid)
	for i, u := range k.all {
		if u == t {
			k.all = append(k.all[:i], k.all[i+1:]...)
			break
		}
	}
}

// idleLoop runs when nothing else is ready.
func (k *Kernel) idleLoop(aux any) {
	aux.(*Semaphore).Up()

	for {
		k.IntrDisable()
		k.Block()
		k.checkQuiescent()
		k.IntrEnable()

		n := k.clock.Await(k.halted)
		if n == 0 {
			runtime.Goexit()
		}
		k.raise(n)
	}
}

// checkQuiescent powers off when no unit can ever run again under a virtual
// clock: every unit finished, or the remaining ones wait on each other.
func (k *Kernel) checkQuiescent() {
	if !k.clock.Virtual() || k.ready.len() > 0 || k.sleepers.len() > 0 {
		return
	}
	var blocked []string
	for _, t := range k.all {
		if t != k.idle && t.state != model.ThreadDying {
			blocked = append(blocked, t.name)
		}
	}
	if len(blocked) == 0 {
		k.powerOff(nil)
	}
	err := model.NewKernelError(model.ErrDeadlockCode, model.TIDError,
		"every unit is blocked and nothing can wake one: %s", strings.Join(blocked, ", "))
	k.logger.Error("deadlock", "blocked", blocked, "ticks", k.ticks)
	k.powerOff(err)
}
