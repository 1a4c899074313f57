// Package model holds the wire types of the introspection API.
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
	return &Pagination{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// TaskView is a task record as the API reports it.
type TaskView struct {
	ID        int       `json:"id"`
	Handle    string    `json:"handle"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Current   bool      `json:"current"`
	OnReady   bool      `json:"on_ready_list"`
	Switches  uint64    `json:"switches"`
	StackSize string    `json:"stack_size"`
	Age       string    `json:"age"`
	CreatedAt time.Time `json:"created_at"`
}

// StatsView is the runtime counters plus human-readable sizes.
type StatsView struct {
	Switches        uint64 `json:"switches"`
	Yields          uint64 `json:"yields"`
	Preemptions     uint64 `json:"preemptions"`
	Spawned         uint64 `json:"spawned"`
	Exited          uint64 `json:"exited"`
	Tasks           int    `json:"tasks"`
	ReadyListLen    int    `json:"ready_list_len"`
	StackBytesInUse int64  `json:"stack_bytes_in_use"`
	StackInUse      string `json:"stack_in_use"`
	StackSize       string `json:"stack_size"`
	Tick            string `json:"tick"`
	Uptime          string `json:"uptime"`
}
