package devserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

var fixedNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New()
	s.SetClock(func() time.Time { return fixedNow })
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, data
}

func decodeError(t *testing.T, data []byte) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decoding error body %s: %v", data, err)
	}
	return body
}

func TestServer_CreateUsesUnderscoreKeys(t *testing.T) {
	_, srv := newTestServer(t)

	resp, data := do(t, http.MethodPost, srv.URL+"/tasks",
		`{"title":"  Write report ","priority":"high","due_date":"20-06-2025"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if raw["title"] != "Write report" {
		t.Errorf("expected trimmed title, got %v", raw["title"])
	}
	if raw["created_at"] != "2025-06-15T10:30:00Z" {
		t.Errorf("created_at = %v", raw["created_at"])
	}
	if raw["due_date"] != "20-06-2025" {
		t.Errorf("due_date = %v", raw["due_date"])
	}
	if _, ok := raw["createdAt"]; ok {
		t.Error("response must not use camel-style keys")
	}
	if raw["id"] != "task-1" {
		t.Errorf("id = %v, want task-1", raw["id"])
	}
}

func TestServer_ListGetUpdateDelete(t *testing.T) {
	s, srv := newTestServer(t)
	s.Seed(
		models.Task{Title: "one", CreatedAt: "2025-06-01T00:00:00Z"},
		models.Task{Title: "two", Priority: models.PriorityLow},
	)

	resp, data := do(t, http.MethodGet, srv.URL+"/tasks", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list []map[string]any
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 2 || list[0]["title"] != "one" || list[0]["priority"] != "none" {
		t.Fatalf("unexpected list: %v", list)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/tasks/task-2", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", resp.StatusCode)
	}

	resp, data = do(t, http.MethodPatch, srv.URL+"/tasks/task-2", `{"completed":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", resp.StatusCode, data)
	}
	if got := s.Tasks()[1]; !got.Completed || got.Title != "two" {
		t.Errorf("unexpected task after patch: %+v", got)
	}

	resp, _ = do(t, http.MethodDelete, srv.URL+"/tasks/task-1", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if n := len(s.Tasks()); n != 1 {
		t.Errorf("expected 1 task left, got %d", n)
	}
}

func TestServer_EmptyListIsArray(t *testing.T) {
	_, srv := newTestServer(t)
	_, data := do(t, http.MethodGet, srv.URL+"/tasks", "")
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("expected [], got %s", data)
	}
}

func TestServer_NotFound(t *testing.T) {
	_, srv := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodPatch, http.MethodDelete} {
		body := ""
		if method == http.MethodPatch {
			body = `{"title":"x"}`
		}
		resp, data := do(t, method, srv.URL+"/tasks/missing", body)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d", method, resp.StatusCode)
			continue
		}
		eb := decodeError(t, data)
		if eb.Code != "not_found" || eb.Message != "Task missing not found" {
			t.Errorf("%s unexpected body: %+v", method, eb)
		}
		if eb.RequestID == "" || eb.Timestamp == "" {
			t.Errorf("%s expected request_id and timestamp: %+v", method, eb)
		}
	}
}

func TestServer_ValidationError(t *testing.T) {
	_, srv := newTestServer(t)

	resp, data := do(t, http.MethodPost, srv.URL+"/tasks",
		`{"title":"","priority":"urgent","due_date":"14-06-2025"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	eb := decodeError(t, data)
	if eb.Code != "validation_error" {
		t.Errorf("code = %q", eb.Code)
	}
	details, ok := eb.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details object, got %T", eb.Details)
	}
	fields, _ := details["fields"].([]any)
	if len(fields) != 3 {
		t.Errorf("expected 3 field errors, got %v", fields)
	}
}

func TestServer_InvalidJSON(t *testing.T) {
	_, srv := newTestServer(t)
	resp, data := do(t, http.MethodPost, srv.URL+"/tasks", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if eb := decodeError(t, data); eb.Code != "bad_request" {
		t.Errorf("code = %q", eb.Code)
	}
}

func TestServer_FailNext(t *testing.T) {
	s, srv := newTestServer(t)
	s.FailNext(
		Fault{Status: http.StatusServiceUnavailable, Message: "Try later", Code: "unavailable"},
		Fault{Status: http.StatusInternalServerError},
	)

	resp, data := do(t, http.MethodGet, srv.URL+"/tasks", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	if eb := decodeError(t, data); eb.Message != "Try later" || eb.Code != "unavailable" {
		t.Errorf("unexpected fault body: %+v", eb)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/tasks", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("second status = %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/tasks", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("third status = %d", resp.StatusCode)
	}
	if s.Calls() != 3 {
		t.Errorf("Calls = %d, want 3", s.Calls())
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	_, srv := newTestServer(t)
	resp, data := do(t, http.MethodGet, srv.URL+"/nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if eb := decodeError(t, data); eb.Message != "Route not found" {
		t.Errorf("unexpected body: %+v", eb)
	}
}
