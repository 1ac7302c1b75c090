package model

// ThreadState represents the lifecycle state of an execution unit.
type ThreadState string

const (
	ThreadRunning ThreadState = "RUNNING"
	ThreadReady   ThreadState = "READY"
	ThreadBlocked ThreadState = "BLOCKED"
	ThreadDying   ThreadState = "DYING"
)

// String returns the string representation of the thread state.
func (s ThreadState) String() string {
	return string(s)
}

// IsTerminal returns true if the unit will never run again.
func (s ThreadState) IsTerminal() bool {
	return s == ThreadDying
}

// ValidThreadTransitions defines the allowed state transitions for units.
// The idle unit is exempt: it is picked straight out of BLOCKED when nothing
// else is ready.
var ValidThreadTransitions = map[ThreadState][]ThreadState{
	ThreadReady:   {ThreadRunning},
	ThreadRunning: {ThreadReady, ThreadBlocked, ThreadDying},
	ThreadBlocked: {ThreadReady},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ThreadState) CanTransitionTo(next ThreadState) bool {
	for _, allowed := range ValidThreadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Policy selects the scheduling policy. It is fixed at boot.
type Policy string

const (
	PolicyPriority Policy = "priority"
	PolicyMLFQS    Policy = "mlfqs"
)

// String returns the string representation of the policy.
func (p Policy) String() string {
	return string(p)
}

// Valid returns true for a known policy.
func (p Policy) Valid() bool {
	return p == PolicyPriority || p == PolicyMLFQS
}
