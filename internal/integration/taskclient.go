package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/valter-silva-au/tasksync/internal/transport"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Doer performs one logical request. *transport.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req transport.Request, out any) error
}

// TaskClient maps task operations onto the REST endpoints of the backend.
// It holds no state and returns transport errors unchanged.
type TaskClient interface {
	List(ctx context.Context) ([]models.Task, error)
	Get(ctx context.Context, id string) (models.Task, error)
	Create(ctx context.Context, draft models.TaskDraft) (models.Task, error)
	Update(ctx context.Context, id string, update models.TaskUpdate) (models.Task, error)
	Remove(ctx context.Context, id string) error
}

type taskClient struct {
	doer Doer
}

// NewTaskClient creates a TaskClient on top of doer.
func NewTaskClient(doer Doer) TaskClient {
	return &taskClient{doer: doer}
}

const tasksPath = "/tasks"

func taskPath(id string) string {
	return tasksPath + "/" + url.PathEscape(id)
}

func (c *taskClient) List(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := c.doer.Do(ctx, transport.Request{Method: http.MethodGet, Path: tasksPath}, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

func (c *taskClient) Get(ctx context.Context, id string) (models.Task, error) {
	if id == "" {
		return models.Task{}, fmt.Errorf("task id is required")
	}
	var task models.Task
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodGet, Path: taskPath(id)}, &task)
	return task, err
}

func (c *taskClient) Create(ctx context.Context, draft models.TaskDraft) (models.Task, error) {
	var task models.Task
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodPost, Path: tasksPath, Body: draft}, &task)
	return task, err
}

func (c *taskClient) Update(ctx context.Context, id string, update models.TaskUpdate) (models.Task, error) {
	if id == "" {
		return models.Task{}, fmt.Errorf("task id is required")
	}
	var task models.Task
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodPatch, Path: taskPath(id), Body: update}, &task)
	return task, err
}

func (c *taskClient) Remove(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("task id is required")
	}
	return c.doer.Do(ctx, transport.Request{Method: http.MethodDelete, Path: taskPath(id)}, nil)
}
