package models

import (
	"time"
)

// TaskStatus 定义了任务的几种可能状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusRunning,
	TaskStatusCompleted,
	TaskStatusFailed,
}

// ParseTaskStatus converts a raw string into a TaskStatus.
func ParseTaskStatus(raw string) (TaskStatus, bool) {
	s := TaskStatus(raw)
	return s, s.Valid()
}

// Valid reports whether s is one of the four known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition can leave s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	case TaskStatusPending, TaskStatusRunning:
		return false
	default:
		return false
	}
}

// CanTransitionTo reports whether s -> next is an edge of the task state machine.
// Pending only moves to Running, Running only moves to a terminal status.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	case TaskStatusCompleted, TaskStatusFailed:
		return false
	default:
		return false
	}
}

// Task 代表一个提交的意图及其执行状态
type Task struct {
	ID        string            `json:"id"`                 // 任务唯一ID (UUID string)
	Intent    string            `json:"intent"`             // 原始提交的文本
	Status    TaskStatus        `json:"status"`             // 任务当前状态
	CreatedAt time.Time         `json:"created_at"`         // 创建时间
	UpdatedAt time.Time         `json:"updated_at"`         // 最近一次状态变更时间
	Result    *string           `json:"result,omitempty"`   // 仅在 completed 时存在
	Error     *string           `json:"error,omitempty"`    // 仅在 failed 时存在
	Metadata  map[string]string `json:"metadata,omitempty"` // 调用方提供的元数据
}

// Clone returns a deep copy of t so callers never share mutable state with the store.
func (t Task) Clone() Task {
	out := t
	if t.Result != nil {
		r := *t.Result
		out.Result = &r
	}
	if t.Error != nil {
		e := *t.Error
		out.Error = &e
	}
	out.Metadata = CopyMetadata(t.Metadata)
	return out
}

// CopyMetadata copies a metadata map. A nil or empty map yields nil.
func CopyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Summary aggregates task counts.
type Summary struct {
	Total    int                `json:"total"`
	ByStatus map[TaskStatus]int `json:"by_status"`
}

// NewSummary returns a Summary with a zero entry for every status.
func NewSummary() Summary {
	byStatus := make(map[TaskStatus]int, len(AllTaskStatuses))
	for _, s := range AllTaskStatuses {
		byStatus[s] = 0
	}
	return Summary{ByStatus: byStatus}
}

// SystemStatus is the coordinator's view of the system.
type SystemStatus struct {
	Summary
	InitializedAt time.Time `json:"initialized_at"`
}
