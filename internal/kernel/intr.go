package kernel

import "runtime"

// IntrLevel is the interrupt enable state of the CPU.
type IntrLevel int

const (
	IntrOff IntrLevel = iota
	IntrOn
)

func (l IntrLevel) String() string {
	if l == IntrOn {
		return "on"
	}
	return "off"
}

// IntrGetLevel returns the current interrupt level.
func (k *Kernel) IntrGetLevel() IntrLevel {
	return k.level
}

// IntrDisable turns interrupts off and returns the previous level. Calls nest:
// only the outermost disable acquires the CPU.
//
//	old := k.IntrDisable()
//	...
//	k.IntrSetLevel(old)
func (k *Kernel) IntrDisable() IntrLevel {
	if k.poweredOff() {
		runtime.Goexit()
	}
	old := k.level
	if old == IntrOn {
		k.cpu.Lock()
		select {
		case <-k.halted:
			k.cpu.Unlock()
			runtime.Goexit()
		default:
		}
		k.level = IntrOff
	}
	return old
}

// IntrEnable turns interrupts on and returns the previous level. Timer
// interrupts that arrived while they were off are delivered before it returns.
// After power off it does nothing: goroutines unwinding their deferred calls
// no longer own the CPU.
func (k *Kernel) IntrEnable() IntrLevel {
	if k.poweredOff() {
		return IntrOff
	}
	old := k.level
	if old == IntrOff {
		k.assertf(!k.inIntr, "interrupts enabled inside the interrupt handler")
		k.level = IntrOn
		k.cpu.Unlock()
		k.poll()
	}
	return old
}

// IntrSetLevel sets the interrupt level and returns the previous one.
func (k *Kernel) IntrSetLevel(level IntrLevel) IntrLevel {
	if level == IntrOn {
		return k.IntrEnable()
	}
	return k.IntrDisable()
}

// poweredOff reports whether the kernel has halted. Interrupt state must not
// be touched once it has.
func (k *Kernel) poweredOff() bool {
	select {
	case <-k.halted:
		return true
	default:
		return false
	}
}

// IntrContext reports whether the caller is running inside the timer
// interrupt handler.
func (k *Kernel) IntrContext() bool {
	return k.inIntr
}

// poll delivers timer interrupts raised asynchronously by the clock.
func (k *Kernel) poll() {
	if n := k.clock.Pending(); n > 0 {
		k.raise(n)
	}
}

// raise delivers n timer interrupts on the running unit. Interrupts must be
// on; each handler runs with them off and may request a yield on return.
func (k *Kernel) raise(n int) {
	for i := 0; i < n; i++ {
		k.IntrDisable()
		k.inIntr = true
		k.timerInterrupt()
		k.inIntr = false
		yield := k.yieldOnReturn
		k.yieldOnReturn = false
		k.level = IntrOn
		k.cpu.Unlock()

		if yield {
			k.Yield()
		}
	}
}

// yieldOnReturnOrNow preempts the running unit: immediately from thread
// context, or once the interrupt handler returns.
func (k *Kernel) yieldOnReturnOrNow() {
	if k.inIntr {
		k.yieldOnReturn = true
		return
	}
	k.Yield()
}
