package model

import "strings"

// Event kinds exchanged with clients, the full event name is "<kind>:<taskType>".
const (
	EventTaskCommit    = "taskCommit"
	EventTaskCancel    = "taskCancel"
	EventTaskProgress  = "taskProgress"
	EventTaskCompleted = "taskCompleted"
)

// EventName returns the event name of a kind for a task type.
func EventName(kind string, t TaskType) string {
	return kind + ":" + string(t)
}

// SplitEventName returns the kind and the raw task type of an event name.
func SplitEventName(name string) (kind, taskType string, ok bool) {
	return strings.Cut(name, ":")
}
