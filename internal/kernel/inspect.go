package kernel

import (
	"github.com/me/ksched/pkg/model"
)

// inspect captures the kernel's state. Interrupts must be off.
func (k *Kernel) inspect() inspection {
	in := inspection{
		stats: model.Stats{
			Policy:      k.cfg.Policy(),
			Ticks:       k.ticks,
			IdleTicks:   k.idleTicks,
			KernelTicks: k.kernelTicks,
			Switches:    k.switches,
			Created:     k.created,
			Exited:      k.exited,
			Ready:       k.ready.len(),
			Sleeping:    k.sleepers.len(),
			LoadAvg:     k.loadAvg.Hundredths(),
		},
	}
	for _, t := range k.all {
		if t.state != model.ThreadDying {
			in.stats.Live++
		}
		in.threads = append(in.threads, t.info())
	}
	return in
}

func (t *Thread) info() model.ThreadInfo {
	ti := model.ThreadInfo{
		TID:          t.tid,
		Name:         t.name,
		State:        t.state,
		BasePriority: t.basePriority,
		Priority:     t.priority,
		Nice:         t.nice,
		RecentCPU:    t.recentCPU.Hundredths(),
	}
	if t.queue == inSleep {
		ti.WakeTick = t.wakeTick
	}
	if t.waitingOn != nil {
		ti.WaitingOn = t.waitingOn.name
	}
	if len(t.donors) > 0 {
		ti.Donors = append([]model.TID(nil), t.donors...)
	}
	return ti
}

// Stats returns activity counters. It must be called from a unit.
func (k *Kernel) Stats() model.Stats {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	return k.inspect().stats
}

// Snapshot lists every unit in creation order. It must be called from a unit.
func (k *Kernel) Snapshot() []model.ThreadInfo {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	return k.inspect().threads
}

// Inspect returns counters and units from a goroutine outside the kernel,
// such as a monitor. After power off it returns the final state.
func (k *Kernel) Inspect() (model.Stats, []model.ThreadInfo) {
	var in inspection
	if !k.withCPU(func() { in = k.inspect() }) {
		in = k.final
	}
	return in.stats, in.threads
}

// ThreadInfo returns the view of one unit, or false if tid is unknown. It
// must be called from a unit.
func (k *Kernel) ThreadInfo(tid model.TID) (model.ThreadInfo, bool) {
	old := k.IntrDisable()
	defer k.IntrSetLevel(old)
	t := k.lookup(tid)
	if t == nil {
		return model.ThreadInfo{}, false
	}
	return t.info(), true
}
