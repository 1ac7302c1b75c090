package kernel

import (
	"fmt"

	"github.com/me/ksched/pkg/model"
)

// Priority donation. Donors are kept as identifiers and resolved through the
// registry, so a donor that has gone away is simply skipped. All functions
// here run with interrupts off and only under priority scheduling.

// donate records cur as a donor of l's holder and lends cur's priority along
// the chain of holders: if the holder itself waits on a lock, that lock's
// holder is raised too, and so on.
func (k *Kernel) donate(cur *Thread, l *Lock) {
	l.holder.addDonor(cur.tid)
	donor, holder := cur, l.holder
	for hops := 0; holder != nil && hops < len(k.all); hops++ {
		if holder.priority >= donor.priority {
			return
		}
		k.logger.Debug("priority donated", "from", donor.tid, "to", holder.tid, "priority", donor.priority)
		holder.priority = donor.priority
		k.requeue(holder)
		k.emit(model.EventDonate, holder, fmt.Sprintf("from %s via %s", donor.name, l.name))

		if holder.waitingOn == nil {
			return
		}
		l = holder.waitingOn
		donor, holder = holder, holder.waitingOn.holder
	}
}

// revoke drops the donations holder received through l and recomputes its
// priority from what remains.
func (k *Kernel) revoke(holder *Thread, l *Lock) {
	kept := holder.donors[:0]
	for _, tid := range holder.donors {
		if d := k.lookup(tid); d != nil && d.waitingOn != l {
			kept = append(kept, tid)
		}
	}
	holder.donors = kept

	before := holder.priority
	k.refreshPriority(holder)
	if holder.priority != before {
		k.emit(model.EventRestore, holder, fmt.Sprintf("released %s: %d -> %d", l.name, before, holder.priority))
	}
}

// inherit makes the units still waiting on l donors of its new holder.
func (k *Kernel) inherit(holder *Thread, l *Lock) {
	for _, w := range l.sema.waiters {
		holder.addDonor(w.tid)
	}
	k.refreshPriority(holder)
}

// refreshPriority sets t's effective priority to the larger of its base
// priority and the best priority among its donors.
func (k *Kernel) refreshPriority(t *Thread) {
	p := t.basePriority
	for _, tid := range t.donors {
		if d := k.lookup(tid); d != nil && d.priority > p {
			p = d.priority
		}
	}
	t.priority = p
	k.requeue(t)
}

// stripDonor removes an exiting unit from every donor list.
func (k *Kernel) stripDonor(gone *Thread) {
	for _, t := range k.all {
		for i, tid := range t.donors {
			if tid == gone.tid {
				t.donors = append(t.donors[:i], t.donors[i+1:]...)
				if !k.cfg.MLFQS {
					k.refreshPriority(t)
				}
				break
			}
		}
	}
	gone.donors = nil
}

func (t *Thread) addDonor(tid model.TID) {
	for _, d := range t.donors {
		if d == tid {
			return
		}
	}
	t.donors = append(t.donors, tid)
}
