package cmd

import "time"

// Wire shapes of the task service responses.

type task struct {
	ID        string            `json:"id"`
	Intent    string            `json:"intent"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Result    *string           `json:"result,omitempty"`
	Error     *string           `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type taskEvent struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	Task      *task     `json:"task,omitempty"`
}

type systemStatus struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	InitializedAt time.Time      `json:"initialized_at"`
}

var taskStatuses = []string{"pending", "running", "completed", "failed"}

func validStatus(s string) bool {
	for _, known := range taskStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func isTerminal(status string) bool {
	return status == "completed" || status == "failed"
}
