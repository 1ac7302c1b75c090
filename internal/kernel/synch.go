package kernel

import (
	"github.com/me/ksched/pkg/model"
)

// Semaphore is a counting semaphore. Up hands its permit straight to the
// highest-priority waiter when there is one.
type Semaphore struct {
	k       *Kernel
	name    string
	value   int
	waiters []*Thread // arrival order
}

// NewSemaphore creates a semaphore with the given initial value.
func (k *Kernel) NewSemaphore(name string, value int) *Semaphore {
	k.assertf(value >= 0, "semaphore %q initialised to %d", name, value)
	return &Semaphore{k: k, name: name, value: value}
}

// Name returns the semaphore's name.
func (s *Semaphore) Name() string { return s.name }

// Value returns the current count.
func (s *Semaphore) Value() int {
	old := s.k.IntrDisable()
	defer s.k.IntrSetLevel(old)
	return s.value
}

// Down waits for the value to become positive and decrements it.
func (s *Semaphore) Down() {
	k := s.k
	k.assertf(!k.inIntr, "sema down on %q inside the interrupt handler", s.name)
	old := k.IntrDisable()
	if s.value > 0 {
		s.value--
	} else {
		cur := k.running
		k.assertf(cur.queue == inNone, "%s waits on %q while in %s list", cur, s.name, cur.queue)
		cur.queue = inWait
		s.waiters = append(s.waiters, cur)
		k.Block()
		// The permit was handed over by up.
	}
	k.IntrSetLevel(old)
}

// TryDown decrements the value if it is positive, without waiting.
func (s *Semaphore) TryDown() bool {
	old := s.k.IntrDisable()
	defer s.k.IntrSetLevel(old)
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// Up wakes the highest-priority waiter, or increments the value if nobody
// waits. It may be called from the interrupt handler.
func (s *Semaphore) Up() {
	k := s.k
	old := k.IntrDisable()
	if s.up() != nil {
		k.preempt()
	}
	k.IntrSetLevel(old)
}

// up performs Up without preempting and returns the woken unit, if any.
// Interrupts must be off.
func (s *Semaphore) up() *Thread {
	if len(s.waiters) == 0 {
		s.value++
		return nil
	}
	t := s.popMax()
	t.queue = inNone
	s.k.Unblock(t)
	return t
}

// popMax removes the waiter with the highest effective priority, earliest
// arrival first among equals. Priorities may have changed while parked.
func (s *Semaphore) popMax() *Thread {
	best := 0
	for i, t := range s.waiters {
		if t.priority > s.waiters[best].priority {
			best = i
		}
	}
	t := s.waiters[best]
	s.waiters = append(s.waiters[:best], s.waiters[best+1:]...)
	return t
}

// Lock is a binary mutual-exclusion lock with an owner. Under priority
// scheduling, units waiting for a lock donate their priority to its holder.
type Lock struct {
	k      *Kernel
	name   string
	holder *Thread
	sema   *Semaphore
}

// NewLock creates an unlocked lock.
func (k *Kernel) NewLock(name string) *Lock {
	return &Lock{k: k, name: name, sema: k.NewSemaphore(name, 1)}
}

// Name returns the lock's name.
func (l *Lock) Name() string { return l.name }

// Acquire waits until the lock is free and takes it. Acquiring a lock the
// caller already holds kills the caller.
func (l *Lock) Acquire() {
	k := l.k
	k.assertf(!k.inIntr, "acquire of %q inside the interrupt handler", l.name)
	old := k.IntrDisable()
	cur := k.running
	if l.holder == cur {
		k.kill(model.NewKernelError(model.ErrLockMisuseCode, cur.tid, "recursive acquire of lock %q", l.name))
	}
	if l.holder != nil {
		cur.waitingOn = l
		if !k.cfg.MLFQS {
			k.donate(cur, l)
		}
	}
	l.sema.Down()
	cur.waitingOn = nil
	if l.holder == nil {
		l.holder = cur
	}
	k.assertf(l.holder == cur, "lock %q handed to %s but %s acquired it", l.name, l.holder, cur)
	k.IntrSetLevel(old)
}

// TryAcquire takes the lock if it is free, without waiting.
func (l *Lock) TryAcquire() bool {
	k := l.k
	old := k.IntrDisable()
	if l.holder == k.running {
		k.kill(model.NewKernelError(model.ErrLockMisuseCode, k.running.tid, "recursive acquire of lock %q", l.name))
	}
	ok := l.sema.TryDown()
	if ok {
		l.holder = k.running
	}
	k.IntrSetLevel(old)
	return ok
}

// Release gives up the lock. Ownership passes directly to the highest-priority
// waiter, which inherits the donations of the units still waiting. Releasing
// a lock the caller does not hold kills the caller.
func (l *Lock) Release() {
	k := l.k
	old := k.IntrDisable()
	cur := k.running
	if l.holder != cur {
		k.kill(model.NewKernelError(model.ErrLockMisuseCode, cur.tid, "release of lock %q by non-holder", l.name))
	}
	if !k.cfg.MLFQS {
		k.revoke(cur, l)
	}

	l.holder = nil
	if next := l.sema.up(); next != nil {
		next.waitingOn = nil
		l.holder = next
		if !k.cfg.MLFQS {
			k.inherit(next, l)
		}
	}
	k.preempt()
	k.IntrSetLevel(old)
}

// HeldByCurrent reports whether the running unit holds the lock.
func (l *Lock) HeldByCurrent() bool {
	old := l.k.IntrDisable()
	defer l.k.IntrSetLevel(old)
	return l.holder != nil && l.holder == l.k.running
}

// Holder returns the holder's identifier, or model.TIDError when unlocked.
func (l *Lock) Holder() model.TID {
	old := l.k.IntrDisable()
	defer l.k.IntrSetLevel(old)
	if l.holder == nil {
		return model.TIDError
	}
	return l.holder.tid
}

// Cond is a condition variable used with a Lock (monitor style).
type Cond struct {
	k       *Kernel
	name    string
	waiters []*condWaiter
}

type condWaiter struct {
	t    *Thread
	sema *Semaphore
}

// NewCond creates a condition variable.
func (k *Kernel) NewCond(name string) *Cond {
	return &Cond{k: k, name: name}
}

// Name returns the condition variable's name.
func (c *Cond) Name() string { return c.name }

// Wait atomically releases l and waits for a signal, then reacquires l
// before returning. The caller must hold l.
func (c *Cond) Wait(l *Lock) {
	k := c.k
	k.assertf(!k.inIntr, "cond wait on %q inside the interrupt handler", c.name)
	c.mustHold(l)

	old := k.IntrDisable()
	w := &condWaiter{t: k.running, sema: k.NewSemaphore(c.name, 0)}
	c.waiters = append(c.waiters, w)
	k.IntrSetLevel(old)

	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes the highest-priority waiter, if any. The caller must hold l.
func (c *Cond) Signal(l *Lock) {
	c.mustHold(l)
	old := c.k.IntrDisable()
	defer c.k.IntrSetLevel(old)
	if len(c.waiters) == 0 {
		return
	}
	best := 0
	for i, w := range c.waiters {
		if w.t.priority > c.waiters[best].t.priority {
			best = i
		}
	}
	w := c.waiters[best]
	c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	w.sema.Up()
}

// Broadcast wakes every waiter. The caller must hold l.
func (c *Cond) Broadcast(l *Lock) {
	for {
		old := c.k.IntrDisable()
		n := len(c.waiters)
		c.k.IntrSetLevel(old)
		if n == 0 {
			return
		}
		c.Signal(l)
	}
}

func (c *Cond) mustHold(l *Lock) {
	if !l.HeldByCurrent() {
		k := c.k
		old := k.IntrDisable()
		k.kill(model.NewKernelError(model.ErrLockMisuseCode, k.running.tid,
			"cond %q used without holding lock %q", c.name, l.name))
		k.IntrSetLevel(old)
	}
}
