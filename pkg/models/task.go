package models

import "strings"

// TempIDPrefix marks tasks that exist only in the optimistic cache and have
// not yet been confirmed by the server.
const TempIDPrefix = "temp-"

// Priority represents the urgency level of a task.
type Priority string

const (
	PriorityNone   Priority = "none"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists every valid priority in ascending rank order.
var Priorities = []Priority{PriorityNone, PriorityLow, PriorityMedium, PriorityHigh}

// Rank returns the sort rank of the priority (none=0 .. high=3).
// Unknown values rank as none.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ParsePriority converts a user-supplied string to a Priority.
// The empty string maps to PriorityNone.
func ParsePriority(s string) (Priority, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityNone, true
	}
	p := Priority(s)
	return p, p.Valid()
}

// Task is the central entity synchronized with the backend. JSON tags use
// the in-process camel-style names; the transport rewrites them for the wire.
type Task struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    Priority `json:"priority" yaml:"priority"`
	Completed   bool     `json:"completed" yaml:"completed"`
	CreatedAt   string   `json:"createdAt" yaml:"created_at"`
	DueDate     string   `json:"dueDate,omitempty" yaml:"due_date,omitempty"`
}

// IsPending reports whether the task carries a temporary client-side id.
func (t Task) IsPending() bool {
	return strings.HasPrefix(t.ID, TempIDPrefix)
}

// TaskDraft is the payload used to create a task.
type TaskDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority"`
	Completed   bool     `json:"completed"`
	DueDate     string   `json:"dueDate,omitempty"`
}

// TaskUpdate is a partial update; nil fields are left unchanged. An empty
// DueDate clears the due date.
type TaskUpdate struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
}

// IsEmpty reports whether the update carries no fields.
func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil &&
		u.Completed == nil && u.DueDate == nil
}

// ApplyTo returns a copy of t with the non-nil fields of u merged in.
func (u TaskUpdate) ApplyTo(t Task) Task {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Completed != nil {
		t.Completed = *u.Completed
	}
	if u.DueDate != nil {
		t.DueDate = *u.DueDate
	}
	return t
}
