// Package devserver is an in-memory implementation of the task REST backend.
// It speaks the backend's underscore-style JSON, answers failures with the
// flat error body, and can inject faults so clients can be exercised against
// retries and rollbacks.
package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// wireTask is a task as the backend serializes it.
type wireTask struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	Completed   bool   `json:"completed"`
	CreatedAt   string `json:"created_at"`
	DueDate     string `json:"due_date,omitempty"`
}

type wireDraft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Completed   bool   `json:"completed"`
	DueDate     string `json:"due_date"`
}

type wirePatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	Completed   *bool   `json:"completed"`
	DueDate     *string `json:"due_date"`
}

// ErrorBody is the flat error payload returned for every non-2xx response.
type ErrorBody struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

// Fault is an injected failure answered instead of the next request.
type Fault struct {
	Status  int
	Message string
	Code    string
	// Delay holds the response back before answering; combined with a
	// client timeout it simulates a hung backend.
	Delay time.Duration
}

// Server is the in-memory backend. The zero value is not usable; call New.
type Server struct {
	mu     sync.Mutex
	tasks  []wireTask
	nextID int
	faults []Fault
	calls  int
	now    func() time.Time
	router chi.Router
}

// New returns an empty Server whose clock is time.Now.
func New() *Server {
	s := &Server{now: time.Now}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.injectFaults)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/", s.createTask)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Patch("/", s.updateTask)
			r.Delete("/", s.deleteTask)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Route not found", "not_found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed", "method_not_allowed", nil)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler serving the REST contract.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetClock replaces the clock used for creation timestamps and due-date
// validation.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Seed stores tasks as if they had been created by clients. Tasks without an
// id get one assigned.
func (s *Server) Seed(tasks ...models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = s.newIDLocked()
		}
		if t.Priority == "" {
			t.Priority = models.PriorityNone
		}
		if t.CreatedAt == "" {
			t.CreatedAt = s.now().UTC().Format(time.RFC3339)
		}
		s.tasks = append(s.tasks, toWire(t))
	}
}

// Tasks returns a copy of the stored tasks in creation order.
func (s *Server) Tasks() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = fromWire(t)
	}
	return out
}

// FailNext queues faults answered, in order, instead of the next requests.
func (s *Server) FailNext(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// Calls returns how many requests reached the server, faults included.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls++
		var fault *Fault
		if len(s.faults) > 0 {
			f := s.faults[0]
			s.faults = s.faults[1:]
			fault = &f
		}
		s.mu.Unlock()

		if fault == nil {
			next.ServeHTTP(w, r)
			return
		}
		if fault.Delay > 0 {
			select {
			case <-time.After(fault.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if fault.Status == 0 {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, r, fault.Status, fault.Message, fault.Code, nil)
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := slices.Clone(s.tasks)
	s.mu.Unlock()
	if out == nil {
		out = []wireTask{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	i := s.indexLocked(id)
	var t wireTask
	if i >= 0 {
		t = s.tasks[i]
	}
	s.mu.Unlock()

	if i < 0 {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Task %s not found", id), "not_found", nil)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var in wireDraft
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body", "bad_request", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	draft, err := core.ValidateTaskInput(core.TaskInput{
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Completed:   in.Completed,
		DueDate:     in.DueDate,
	}, s.now())
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	t := models.Task{
		ID:          s.newIDLocked(),
		Title:       draft.Title,
		Description: draft.Description,
		Priority:    draft.Priority,
		Completed:   draft.Completed,
		CreatedAt:   s.now().UTC().Format(time.RFC3339),
		DueDate:     draft.DueDate,
	}
	s.tasks = append(s.tasks, toWire(t))
	writeJSON(w, http.StatusCreated, toWire(t))
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in wirePatch
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body", "bad_request", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Task %s not found", id), "not_found", nil)
		return
	}
	update, err := core.ValidateUpdateInput(core.UpdateInput{
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Completed:   in.Completed,
		DueDate:     in.DueDate,
	}, s.now())
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	updated := toWire(update.ApplyTo(fromWire(s.tasks[i])))
	s.tasks[i] = updated
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Task %s not found", id), "not_found", nil)
		return
	}
	s.tasks = slices.Delete(s.tasks, i, i+1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) indexLocked(id string) int {
	return slices.IndexFunc(s.tasks, func(t wireTask) bool { return t.ID == id })
}

func (s *Server) newIDLocked() string {
	s.nextID++
	return fmt.Sprintf("task-%d", s.nextID)
}

func toWire(t models.Task) wireTask {
	return wireTask{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Completed:   t.Completed,
		CreatedAt:   t.CreatedAt,
		DueDate:     t.DueDate,
	}
}

func fromWire(w wireTask) models.Task {
	return models.Task{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		Priority:    models.Priority(w.Priority),
		Completed:   w.Completed,
		CreatedAt:   w.CreatedAt,
		DueDate:     w.DueDate,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		writeError(w, r, http.StatusUnprocessableEntity, "Validation failed", "validation_error",
			map[string]any{"fields": ve.Fields})
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error(), "bad_request", nil)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message, code string, details any) {
	body := ErrorBody{
		Message:   message,
		Code:      code,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: middleware.GetReqID(r.Context()),
	}
	writeJSON(w, status, body)
}
