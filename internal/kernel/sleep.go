package kernel

import (
	"container/list"
	"fmt"

	"github.com/me/ksched/pkg/model"
)

// sleepQueue orders sleeping units by wake tick, earliest first; units with
// the same deadline keep arrival order.
type sleepQueue struct {
	l list.List
}

func (q *sleepQueue) insert(k *Kernel, t *Thread) {
	k.assertf(t.queue == inNone, "%s queued on sleep list while in %s list", t, t.queue)
	t.queue = inSleep
	for e := q.l.Front(); e != nil; e = e.Next() {
		if t.wakeTick < e.Value.(*Thread).wakeTick {
			t.elem = q.l.InsertBefore(t, e)
			return
		}
	}
	t.elem = q.l.PushBack(t)
}

// popDue removes the earliest sleeper if its deadline is at or before now.
func (q *sleepQueue) popDue(now int64) *Thread {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	t := e.Value.(*Thread)
	if t.wakeTick > now {
		return nil
	}
	q.l.Remove(e)
	t.elem = nil
	t.queue = inNone
	return t
}

func (q *sleepQueue) len() int {
	return q.l.Len()
}

// Sleep blocks the running unit for ticks timer ticks. It returns at once
// for ticks <= 0.
func (k *Kernel) Sleep(ticks int64) {
	if ticks <= 0 {
		return
	}
	k.assertf(!k.inIntr, "sleep inside the interrupt handler")
	old := k.IntrDisable()
	cur := k.running
	k.assertf(cur != k.idle, "idle unit slept")
	cur.wakeTick = k.ticks + ticks
	k.sleepers.insert(k, cur)
	k.emit(model.EventSleep, cur, fmt.Sprintf("until %d", cur.wakeTick))
	k.Block()
	k.IntrSetLevel(old)
}

// wakeDue unblocks every sleeper whose deadline has passed. It touches only
// the due units.
func (k *Kernel) wakeDue(now int64) {
	for t := k.sleepers.popDue(now); t != nil; t = k.sleepers.popDue(now) {
		k.emit(model.EventWake, t, fmt.Sprintf("deadline %d", t.wakeTick))
		t.wakeTick = 0
		k.Unblock(t)
	}
}
