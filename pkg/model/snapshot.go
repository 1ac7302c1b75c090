package model

// ThreadInfo is a point-in-time view of one execution unit.
type ThreadInfo struct {
	TID          TID         `json:"tid"`
	Name         string      `json:"name"`
	State        ThreadState `json:"state"`
	BasePriority int         `json:"base_priority"`
	Priority     int         `json:"priority"`
	Nice         int         `json:"nice"`
	RecentCPU    int         `json:"recent_cpu"` // 100x, rounded
	WakeTick     int64       `json:"wake_tick,omitempty"`
	WaitingOn    string      `json:"waiting_on,omitempty"`
	Donors       []TID       `json:"donors,omitempty"`
}

// Stats summarises kernel activity since boot.
type Stats struct {
	Policy      Policy `json:"policy"`
	Ticks       int64  `json:"ticks"`
	IdleTicks   int64  `json:"idle_ticks"`
	KernelTicks int64  `json:"kernel_ticks"`
	Switches    int64  `json:"switches"`
	Created     int64  `json:"created"`
	Exited      int64  `json:"exited"`
	Live        int    `json:"live"`
	Ready       int    `json:"ready"`
	Sleeping    int    `json:"sleeping"`
	LoadAvg     int    `json:"load_avg"` // 100x, rounded
}
