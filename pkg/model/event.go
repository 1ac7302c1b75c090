package model

// EventKind classifies a scheduler trace event.
type EventKind string

const (
	EventCreate   EventKind = "create"
	EventSwitch   EventKind = "switch"
	EventBlock    EventKind = "block"
	EventUnblock  EventKind = "unblock"
	EventSleep    EventKind = "sleep"
	EventWake     EventKind = "wake"
	EventYield    EventKind = "yield"
	EventExit     EventKind = "exit"
	EventDonate   EventKind = "donate"
	EventRestore  EventKind = "restore"
	EventPriority EventKind = "priority"
	EventMisuse   EventKind = "misuse"
	EventMLFQS    EventKind = "mlfqs"
	EventLog      EventKind = "log"
)

// Event is one entry of the scheduler trace.
type Event struct {
	Seq      int64     `json:"seq"`
	Tick     int64     `json:"tick"`
	Kind     EventKind `json:"kind"`
	TID      TID       `json:"tid"`
	Name     string    `json:"name"`
	Priority int       `json:"priority"`
	Detail   string    `json:"detail,omitempty"`
}
