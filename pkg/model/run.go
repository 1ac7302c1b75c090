package model

import "time"

// Run is one recorded scenario execution.
type Run struct {
	ID         string     `json:"id"`
	Scenario   string     `json:"scenario"`
	Policy     Policy     `json:"policy"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Ticks      int64      `json:"ticks"`
	Switches   int64      `json:"switches"`
	LoadAvg    int        `json:"load_avg"`
	Error      string     `json:"error,omitempty"`
}
