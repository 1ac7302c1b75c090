package kernel

import (
	"fmt"

	"github.com/me/ksched/pkg/fixedpoint"
	"github.com/me/ksched/pkg/model"
)

var (
	fp59over60 = fixedpoint.FromInt(59).DivInt(60)
	fp1over60  = fixedpoint.FromInt(1).DivInt(60)
)

// nextLoadAvg applies load_avg = 59/60*load_avg + 1/60*ready.
func nextLoadAvg(load fixedpoint.Value, ready int) fixedpoint.Value {
	return fp59over60.Mul(load).Add(fp1over60.MulInt(ready))
}

// decayRecentCPU applies recent_cpu = (2*load)/(2*load+1)*recent_cpu + nice,
// floored at zero.
func decayRecentCPU(recent, load fixedpoint.Value, nice int) fixedpoint.Value {
	twice := load.MulInt(2)
	coef := twice.Div(twice.AddInt(1))
	v := coef.Mul(recent).AddInt(nice)
	if v < 0 {
		return 0
	}
	return v
}

// mlfqsPriority applies priority = PRI_MAX - recent_cpu/4 - 2*nice, clamped.
func mlfqsPriority(recent fixedpoint.Value, nice int) int {
	p := fixedpoint.FromInt(model.PriMax).Sub(recent.DivInt(4)).SubInt(2 * nice)
	return model.ClampPriority(p.Int())
}

// readyCount counts the units that want the CPU, the running one included
// and idle excluded.
func (k *Kernel) readyCount() int {
	n := k.ready.len()
	if k.running != k.idle {
		n++
	}
	return n
}

// mlfqsTick runs the per-tick and per-second recomputations. Interrupts are off.
func (k *Kernel) mlfqsTick() {
	if k.ticks%model.TimerFreq == 0 {
		k.loadAvg = nextLoadAvg(k.loadAvg, k.readyCount())
		for _, t := range k.all {
			if t != k.idle {
				t.recentCPU = decayRecentCPU(t.recentCPU, k.loadAvg, t.nice)
			}
		}
		for _, t := range k.all {
			k.recompute(t)
		}
		k.emit(model.EventMLFQS, k.running, fmt.Sprintf("load_avg %s", k.loadAvg))
		return
	}
	if k.ticks%model.TimeSlice == 0 {
		k.recompute(k.running)
	}
}

// recompute derives t's priority from its recent_cpu and nice.
func (k *Kernel) recompute(t *Thread) {
	if t == k.idle || t.state == model.ThreadDying {
		return
	}
	t.priority = mlfqsPriority(t.recentCPU, t.nice)
	k.requeue(t)
}

// Priority returns the running unit's effective priority.
func (k *Kernel) Priority() int {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	return k.running.priority
}

// SetPriority sets the running unit's base priority, clamped to the valid
// range. Under priority scheduling the effective priority never drops below
// an active donation, and the caller yields if a ready unit now outranks it.
// Under MLFQS only the stored value changes.
func (k *Kernel) SetPriority(priority int) {
	old := k.IntrDisable()
	cur := k.running
	cur.basePriority = model.ClampPriority(priority)
	if !k.cfg.MLFQS {
		k.refreshPriority(cur)
		k.emit(model.EventPriority, cur, fmt.Sprintf("base %d", cur.basePriority))
		k.preempt()
	}
	k.IntrSetLevel(old)
}

// BasePriority returns the running unit's base priority.
func (k *Kernel) BasePriority() int {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	return k.running.basePriority
}

// Nice returns the running unit's nice value.
func (k *Kernel) Nice() int {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	return k.running.nice
}

// SetNice sets the running unit's nice value, clamped to the valid range. The
// next MLFQS recomputation applies it.
func (k *Kernel) SetNice(nice int) {
	old := k.IntrDisable()
	k.running.nice = model.ClampNice(nice)
	k.IntrSetLevel(old)
}

// RecentCPU returns 100 times the running unit's recent_cpu, rounded.
func (k *Kernel) RecentCPU() int {
	return k.RecentCPUFixed().Hundredths()
}

// RecentCPUFixed returns the running unit's recent_cpu.
func (k *Kernel) RecentCPUFixed() fixedpoint.Value {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	return k.running.recentCPU
}

// LoadAvg returns 100 times the system load average, rounded.
func (k *Kernel) LoadAvg() int {
	return k.LoadAvgFixed().Hundredths()
}

// LoadAvgFixed returns the system load average.
func (k *Kernel) LoadAvgFixed() fixedpoint.Value {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	return k.loadAvg
}
