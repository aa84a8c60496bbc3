package core

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

func genViewTask() *rapid.Generator[models.Task] {
	return rapid.Custom(func(t *rapid.T) models.Task {
		task := models.Task{
			ID:        rapid.StringMatching(`[a-z0-9]{6}`).Draw(t, "id"),
			Priority:  rapid.SampledFrom(models.Priorities).Draw(t, "priority"),
			Completed: rapid.Bool().Draw(t, "completed"),
			CreatedAt: fmt.Sprintf("2025-%02d-%02dT00:00:00Z",
				rapid.IntRange(1, 12).Draw(t, "cm"), rapid.IntRange(1, 28).Draw(t, "cd")),
		}
		if rapid.Bool().Draw(t, "hasDue") {
			task.DueDate = fmt.Sprintf("%02d-%02d-2026",
				rapid.IntRange(1, 28).Draw(t, "dd"), rapid.IntRange(1, 12).Draw(t, "dm"))
		}
		return task
	})
}

func TestProperty_MissingDueDatesSortLast(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := rapid.SliceOf(genViewTask()).Draw(t, "tasks")
		for _, dir := range []models.SortDirection{models.SortAsc, models.SortDesc} {
			v := DeriveView(tasks, true, models.DefaultFilter(), models.SortSpec{Field: models.SortByDueDate, Direction: dir})
			seenMissing := false
			for _, task := range v.Tasks {
				if task.DueDate == "" {
					seenMissing = true
				} else if seenMissing {
					t.Fatalf("%s: task with a due date after one without: %v", dir, v.Tasks)
				}
			}
		}
	})
}

func TestProperty_SortIsOrderedAndComplete(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := rapid.SliceOf(genViewTask()).Draw(t, "tasks")
		field := rapid.SampledFrom([]models.SortField{models.SortByCreatedAt, models.SortByDueDate, models.SortByPriority}).Draw(t, "field")
		dir := rapid.SampledFrom([]models.SortDirection{models.SortAsc, models.SortDesc}).Draw(t, "dir")
		spec := models.SortSpec{Field: field, Direction: dir}

		v := DeriveView(tasks, true, models.DefaultFilter(), spec)
		if len(v.Tasks) != len(tasks) {
			t.Fatalf("view has %d tasks, want %d", len(v.Tasks), len(tasks))
		}
		cmp := compareFor(spec)
		for i := 1; i < len(v.Tasks); i++ {
			if cmp(v.Tasks[i-1], v.Tasks[i]) > 0 {
				t.Fatalf("out of order at %d: %+v before %+v", i, v.Tasks[i-1], v.Tasks[i])
			}
		}
	})
}

func TestProperty_AggregatesMatchCollection(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := rapid.SliceOf(genViewTask()).Draw(t, "tasks")
		status := rapid.SampledFrom([]models.StatusFilter{models.StatusAll, models.StatusActive, models.StatusCompleted}).Draw(t, "status")

		v := DeriveView(tasks, true, models.Filter{Status: status}, models.DefaultSort())
		if v.TotalCount != len(tasks) || v.ActiveCount+v.CompletedCount != v.TotalCount {
			t.Fatalf("counts %d/%d/%d for %d tasks", v.TotalCount, v.ActiveCount, v.CompletedCount, len(tasks))
		}
		for _, task := range v.Tasks {
			if status == models.StatusActive && task.Completed || status == models.StatusCompleted && !task.Completed {
				t.Fatalf("filter %s kept %+v", status, task)
			}
		}
	})
}
