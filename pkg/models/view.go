package models

// StatusFilter restricts a view by completion state.
type StatusFilter string

const (
	StatusAll       StatusFilter = "all"
	StatusActive    StatusFilter = "active"
	StatusCompleted StatusFilter = "completed"
)

// Filter is the transient filter specification applied to the cached collection.
// A nil Priority means no priority restriction.
type Filter struct {
	Status   StatusFilter `json:"status"`
	Priority *Priority    `json:"priority,omitempty"`
}

// SortField names the task field a view is ordered by.
type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortByDueDate   SortField = "dueDate"
	SortByPriority  SortField = "priority"
)

// SortDirection is asc or desc.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec is the transient sort specification.
type SortSpec struct {
	Field     SortField     `json:"field"`
	Direction SortDirection `json:"direction"`
}

// DefaultFilter shows every task.
func DefaultFilter() Filter {
	return Filter{Status: StatusAll}
}

// DefaultSort orders newest first.
func DefaultSort() SortSpec {
	return SortSpec{Field: SortByCreatedAt, Direction: SortDesc}
}
