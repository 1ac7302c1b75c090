package kernel

import (
	"container/list"
	"math/bits"

	"github.com/me/ksched/pkg/model"
)

// runQueue holds READY units in one FIFO per priority level, so the highest
// priority is found from a bitmap and equal priorities cycle round-robin.
type runQueue struct {
	buckets [model.PriMax + 1]list.List
	mask    uint64
	n       int
}

func (q *runQueue) push(k *Kernel, t *Thread) {
	k.assertf(t.queue == inNone, "%s queued on ready list while in %s list", t, t.queue)
	p := t.priority
	t.elem = q.buckets[p].PushBack(t)
	t.bucket = p
	t.queue = inReady
	q.mask |= 1 << uint(p)
	q.n++
}

func (q *runQueue) remove(t *Thread) {
	b := &q.buckets[t.bucket]
	b.Remove(t.elem)
	if b.Len() == 0 {
		q.mask &^= 1 << uint(t.bucket)
	}
	t.elem = nil
	t.queue = inNone
	q.n--
}

// pop removes and returns the first unit of the highest non-empty level.
func (q *runQueue) pop() *Thread {
	if q.mask == 0 {
		return nil
	}
	t := q.buckets[q.max()].Front().Value.(*Thread)
	q.remove(t)
	return t
}

// max returns the highest ready priority, or -1 if the queue is empty.
func (q *runQueue) max() int {
	return bits.Len64(q.mask) - 1
}

func (q *runQueue) len() int {
	return q.n
}

// requeue repositions t after its effective priority changed.
func (k *Kernel) requeue(t *Thread) {
	if t.queue == inReady && t.bucket != t.priority {
		k.ready.remove(t)
		k.ready.push(k, t)
	}
}
