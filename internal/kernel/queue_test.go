package kernel

import (
	"testing"

	"github.com/me/ksched/pkg/model"
)

func newTestThread(tid model.TID, priority int) *Thread {
	return &Thread{tid: tid, name: "t", priority: priority, state: model.ThreadReady}
}

func TestRunQueue_PopOrder(t *testing.T) {
	k := New(DefaultConfig(), testLogger())
	var q runQueue
	if q.max() != -1 || q.pop() != nil {
		t.Fatalf("empty queue: max = %d", q.max())
	}

	for _, th := range []*Thread{
		newTestThread(1, 10),
		newTestThread(2, 40),
		newTestThread(3, 10),
		newTestThread(4, 40),
		newTestThread(5, 0),
	} {
		q.push(k, th)
	}
	if q.len() != 5 {
		t.Errorf("len = %d, want 5", q.len())
	}
	if q.max() != 40 {
		t.Errorf("max = %d, want 40", q.max())
	}

	want := []model.TID{2, 4, 1, 3, 5}
	for i, tid := range want {
		th := q.pop()
		if th == nil {
			t.Fatalf("pop %d returned nil", i)
		}
		if th.tid != tid {
			t.Errorf("pop %d = tid %d, want %d", i, th.tid, tid)
		}
		if th.queue != inNone {
			t.Errorf("popped tid %d still marked %s", th.tid, th.queue)
		}
	}
	if q.len() != 0 || q.max() != -1 {
		t.Errorf("drained queue: len = %d, max = %d", q.len(), q.max())
	}
}

func TestRequeue_MovesToNewLevel(t *testing.T) {
	k := New(DefaultConfig(), testLogger())
	a, b := newTestThread(1, 20), newTestThread(2, 30)
	k.ready.push(k, a)
	k.ready.push(k, b)

	a.priority = 50
	k.requeue(a)
	if got := k.ready.max(); got != 50 {
		t.Errorf("max = %d, want 50", got)
	}
	if got := k.ready.pop(); got != a {
		t.Errorf("pop = %v, want %v", got, a)
	}
	if got := k.ready.pop(); got != b {
		t.Errorf("pop = %v, want %v", got, b)
	}
	if k.ready.mask != 0 {
		t.Errorf("mask = %b, want 0", k.ready.mask)
	}
}

func TestSleepQueue_DeadlineOrder(t *testing.T) {
	k := New(DefaultConfig(), testLogger())
	var q sleepQueue
	for _, s := range []struct {
		tid  model.TID
		wake int64
	}{{1, 5}, {2, 3}, {3, 5}, {4, 1}} {
		th := newTestThread(s.tid, model.PriDefault)
		th.wakeTick = s.wake
		q.insert(k, th)
	}

	if th := q.popDue(0); th != nil {
		t.Errorf("popDue(0) = %v, want nil", th)
	}
	var got []model.TID
	for th := q.popDue(4); th != nil; th = q.popDue(4) {
		got = append(got, th.tid)
	}
	if len(got) != 2 || got[0] != 4 || got[1] != 2 {
		t.Errorf("due at 4 = %v, want [4 2]", got)
	}
	got = nil
	for th := q.popDue(5); th != nil; th = q.popDue(5) {
		got = append(got, th.tid)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("due at 5 = %v, want [1 3]", got)
	}
	if q.len() != 0 {
		t.Errorf("len = %d, want 0", q.len())
	}
}
