package kernel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/ksched/pkg/model"
)

// Clock is the source of timer interrupts.
type Clock interface {
	// Start begins raising interrupts.
	Start()
	// Await waits until at least one interrupt is due and returns how many.
	// It returns 0 once done is closed.
	Await(done <-chan struct{}) int
	// Pending returns the interrupts raised since the last call without waiting.
	Pending() int
	// Delay busy-waits for a duration shorter than one tick.
	Delay(d time.Duration)
	// Virtual reports whether ticks only advance when the kernel awaits them.
	Virtual() bool
	// Stop releases the clock's resources.
	Stop()
}

// VirtualClock advances time only when a unit computes or the CPU idles, so
// runs are deterministic.
type VirtualClock struct{}

// NewVirtualClock creates a VirtualClock.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{}
}

func (c *VirtualClock) Start() {}

func (c *VirtualClock) Await(done <-chan struct{}) int {
	select {
	case <-done:
		return 0
	default:
		return 1
	}
}

func (c *VirtualClock) Pending() int { return 0 }

func (c *VirtualClock) Delay(time.Duration) {}

func (c *VirtualClock) Virtual() bool { return true }

func (c *VirtualClock) Stop() {}

// WallClock raises TimerFreq interrupts per second of real time.
type WallClock struct {
	period  time.Duration
	pending atomic.Int64
	notify  chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// NewWallClock creates a WallClock ticking at model.TimerFreq.
func NewWallClock() *WallClock {
	return &WallClock{
		period: time.Second / model.TimerFreq,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Start launches the ticker goroutine.
func (c *WallClock) Start() {
	go func() {
		ticker := time.NewTicker(c.period)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.pending.Add(1)
				select {
				case c.notify <- struct{}{}:
				default:
				}
			}
		}
	}()
}

func (c *WallClock) Await(done <-chan struct{}) int {
	for {
		if n := c.pending.Swap(0); n > 0 {
			return int(n)
		}
		select {
		case <-done:
			return 0
		case <-c.notify:
		}
	}
}

func (c *WallClock) Pending() int {
	return int(c.pending.Swap(0))
}

func (c *WallClock) Delay(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}

func (c *WallClock) Virtual() bool { return false }

// Stop ends the ticker goroutine. It is safe to call more than once.
func (c *WallClock) Stop() {
	c.once.Do(func() { close(c.stop) })
}
