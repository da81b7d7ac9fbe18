package model

// TaskStatus represents the state of a provisioning task.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task represents a single step of the provisioning run. There is at most one
// task in a non-terminal state at any time.
type Task struct {
	Name   string
	Status TaskStatus
	Error  string
}

// Finished returns true when the task has reached a terminal state.
func (t *Task) Finished() bool {
	return t.Status == TaskStatusDone || t.Status == TaskStatusFailed
}
