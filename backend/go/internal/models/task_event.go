package models

import "time"

// TaskEvent 定义了任务生命周期事件的统一结构，发送给 WebSocket 订阅者和 Kafka。
type TaskEvent struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Message   string     `json:"message,omitempty"`
	Task      *Task      `json:"task,omitempty"`
}

// NewTaskEvent builds an event from a task snapshot.
func NewTaskEvent(task Task, message string) TaskEvent {
	snapshot := task.Clone()
	return TaskEvent{
		TaskID:    task.ID,
		Status:    task.Status,
		Timestamp: task.UpdatedAt,
		Message:   message,
		Task:      &snapshot,
	}
}
