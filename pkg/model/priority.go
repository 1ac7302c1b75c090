package model

import "unicode/utf8"

// TID identifies an execution unit. Identifiers are assigned monotonically.
type TID int

// TIDError is returned in place of an identifier when creation fails.
const TIDError TID = -1

// Priority and niceness bounds.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63

	NiceMin     = -20
	NiceDefault = 0
	NiceMax     = 20
)

// Timer constants.
const (
	// TimerFreq is the number of timer interrupts per second.
	TimerFreq = 100
	// TimeSlice is the number of ticks a unit runs before it is preempted.
	TimeSlice = 4
)

// MaxNameLen bounds unit names; longer names are truncated.
const MaxNameLen = 16

// ClampPriority forces p into [PriMin, PriMax].
func ClampPriority(p int) int {
	return clamp(p, PriMin, PriMax)
}

// ClampNice forces n into [NiceMin, NiceMax].
func ClampNice(n int) int {
	return clamp(n, NiceMin, NiceMax)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TruncateName bounds a unit name to MaxNameLen bytes without splitting a
// UTF-8 sequence.
func TruncateName(name string) string {
	if len(name) <= MaxNameLen {
		return name
	}
	n := MaxNameLen
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}
