package kernel

import (
	"time"

	"github.com/me/ksched/pkg/model"
)

// timerInterrupt is the timer interrupt handler. It runs with interrupts off
// on behalf of the running unit and only touches units that are due.
func (k *Kernel) timerInterrupt() {
	k.ticks++
	k.threadTick()
	if k.cfg.MLFQS {
		k.mlfqsTick()
	}
	k.wakeDue(k.ticks)

	top := k.ready.max()
	switch {
	case top < 0:
	case k.running == k.idle:
		k.yieldOnReturn = true
	case top > k.running.priority:
		k.yieldOnReturn = true
	case k.slice >= model.TimeSlice && top >= k.running.priority:
		k.yieldOnReturn = true
	}
}

// threadTick charges the tick to the running unit.
func (k *Kernel) threadTick() {
	cur := k.running
	if cur == k.idle {
		k.idleTicks++
	} else {
		k.kernelTicks++
		if k.cfg.MLFQS {
			cur.recentCPU = cur.recentCPU.AddInt(1)
		}
	}
	k.slice++
}

// Ticks returns the number of timer ticks since boot.
func (k *Kernel) Ticks() int64 {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	return k.ticks
}

// Elapsed returns the ticks since then, a value once returned by Ticks.
func (k *Kernel) Elapsed(then int64) int64 {
	return k.Ticks() - then
}

// MSleep sleeps for approximately ms milliseconds.
func (k *Kernel) MSleep(ms int64) { k.realTimeSleep(ms, 1000) }

// USleep sleeps for approximately us microseconds.
func (k *Kernel) USleep(us int64) { k.realTimeSleep(us, 1000*1000) }

// NSleep sleeps for approximately ns nanoseconds.
func (k *Kernel) NSleep(ns int64) { k.realTimeSleep(ns, 1000*1000*1000) }

// realTimeSleep sleeps for num/denom seconds. Whole ticks block the unit;
// anything shorter busy-waits.
func (k *Kernel) realTimeSleep(num, denom int64) {
	ticks := num * model.TimerFreq / denom
	if ticks > 0 {
		k.Sleep(ticks)
		return
	}
	k.assertf(k.IntrGetLevel() == IntrOn, "sub-tick sleep with interrupts off")
	k.clock.Delay(time.Duration(num * int64(time.Second) / denom))
}

// Compute keeps the running unit busy on the CPU for ticks timer ticks,
// taking preemption as it goes. Interrupts must be on.
func (k *Kernel) Compute(ticks int64) {
	k.assertf(k.IntrGetLevel() == IntrOn, "compute with interrupts off")
	for i := int64(0); i < ticks; {
		n := k.clock.Await(k.halted)
		if n == 0 {
			k.zombie()
		}
		k.raise(n)
		i += int64(n)
	}
}
