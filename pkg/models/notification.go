package models

import "time"

// NotificationKind categorizes a notification intent.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
)

// Notification is a user-facing message emitted when a mutation settles.
// Rendering is left to whichever collaborator receives it.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Message string           `json:"message"`
	TaskID  string           `json:"task_id,omitempty"`
	Detail  string           `json:"detail,omitempty"`
	Time    time.Time        `json:"time"`
}
