package core

import "github.com/valter-silva-au/tasksync/pkg/models"

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Notifier receives the success and failure notification intents produced
// when a mutation settles. Rendering them is up to the implementation.
type Notifier interface {
	Notify(n models.Notification) error
}
