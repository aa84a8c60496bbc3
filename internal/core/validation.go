package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 5000
)

var dueDatePattern = regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`)

// TaskInput is an unvalidated create payload as typed by a user.
type TaskInput struct {
	Title       string
	Description string
	Priority    string
	Completed   bool
	DueDate     string
}

// UpdateInput is an unvalidated partial update; nil fields are absent.
type UpdateInput struct {
	Title       *string
	Description *string
	Priority    *string
	Completed   *bool
	DueDate     *string
}

// FieldError describes one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every rule a payload failed.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// For returns the messages recorded for field.
func (e *ValidationError) For(field string) []string {
	var out []string
	for _, f := range e.Fields {
		if f.Field == field {
			out = append(out, f.Message)
		}
	}
	return out
}

type fieldErrors []FieldError

func (fe *fieldErrors) add(field, msg string) {
	*fe = append(*fe, FieldError{Field: field, Message: msg})
}

func (fe fieldErrors) err() error {
	if len(fe) == 0 {
		return nil
	}
	return &ValidationError{Fields: fe}
}

// ValidateTaskInput checks a create payload and returns the normalized draft.
// All failures are reported together.
func ValidateTaskInput(in TaskInput, now time.Time) (models.TaskDraft, error) {
	var errs fieldErrors
	draft := models.TaskDraft{Completed: in.Completed}

	draft.Title = validateTitle(in.Title, &errs)
	draft.Description = validateDescription(in.Description, &errs)
	draft.Priority = validatePriority(in.Priority, &errs)
	draft.DueDate = validateDueDate(in.DueDate, now, &errs)

	if err := errs.err(); err != nil {
		return models.TaskDraft{}, err
	}
	return draft, nil
}

// ValidateUpdateInput checks a partial update. Only present fields are
// validated. An empty due date clears it.
func ValidateUpdateInput(in UpdateInput, now time.Time) (models.TaskUpdate, error) {
	var errs fieldErrors
	var up models.TaskUpdate

	if in.Title != nil {
		title := validateTitle(*in.Title, &errs)
		up.Title = &title
	}
	if in.Description != nil {
		desc := validateDescription(*in.Description, &errs)
		up.Description = &desc
	}
	if in.Priority != nil {
		p := validatePriority(*in.Priority, &errs)
		up.Priority = &p
	}
	if in.Completed != nil {
		c := *in.Completed
		up.Completed = &c
	}
	if in.DueDate != nil {
		due := validateDueDate(*in.DueDate, now, &errs)
		up.DueDate = &due
	}

	if err := errs.err(); err != nil {
		return models.TaskUpdate{}, err
	}
	return up, nil
}

func validateTitle(raw string, errs *fieldErrors) string {
	title := strings.TrimSpace(raw)
	switch n := utf8.RuneCountInString(title); {
	case n == 0:
		errs.add("title", "Title is required")
	case n > MaxTitleLength:
		errs.add("title", fmt.Sprintf("Title must be at most %d characters", MaxTitleLength))
	}
	return title
}

func validateDescription(raw string, errs *fieldErrors) string {
	desc := strings.TrimSpace(raw)
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		errs.add("description", fmt.Sprintf("Description must be at most %d characters", MaxDescriptionLength))
	}
	return desc
}

func validatePriority(raw string, errs *fieldErrors) models.Priority {
	p, ok := models.ParsePriority(raw)
	if !ok {
		errs.add("priority", "Priority must be one of none, low, medium, high")
		return models.PriorityNone
	}
	return p
}

// validateDueDate returns the trimmed due date, or "" when absent.
func validateDueDate(raw string, now time.Time, errs *fieldErrors) string {
	due := strings.TrimSpace(raw)
	if due == "" {
		return ""
	}
	if !dueDatePattern.MatchString(due) {
		errs.add("dueDate", "Due date must be in DD-MM-YYYY format")
		return due
	}
	t, err := time.ParseInLocation(DueDateLayout, due, now.Location())
	if err != nil {
		errs.add("dueDate", "Due date must be a valid calendar date")
		return due
	}
	if DaysBetween(now, t) < 0 {
		errs.add("dueDate", "Due date cannot be in the past")
	}
	return due
}
