package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewPagination fills HasMore from the page position.
func NewPagination(total, limit, offset int) *Pagination {
	return &Pagination{Total: total, Limit: limit, Offset: offset, HasMore: offset+limit < total}
}

// ListOptions configures run listing.
type ListOptions struct {
	Limit    int
	Offset   int
	Policy   Policy // optional
	Scenario string // optional
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	o.Limit, o.Offset = clampPage(o.Limit, o.Offset, 20, 100)
}

// EventListOptions configures trace event listing for one run.
type EventListOptions struct {
	Limit  int
	Offset int
	Kind   EventKind // optional
	TID    TID       // optional, 0 means every unit
	Since  int64     // optional, only events with Seq > Since
}

// Clamp enforces limits (max 10000, default 500).
func (o *EventListOptions) Clamp() {
	o.Limit, o.Offset = clampPage(o.Limit, o.Offset, 500, 10000)
}

func clampPage(limit, offset, def, max int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
