package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hive/internal/api"
	"hive/internal/queue"
	"hive/internal/testsupport"
)

func newTestServer(t *testing.T) (*apiServer, *queue.Queue) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st)
	return &apiServer{views: api.NewService(cfg, q)}, q
}

func TestAPIServerHandleTasks(t *testing.T) {
	srv, q := newTestServer(t)
	if _, err := q.Enqueue(context.Background(), queue.EnqueueRequest{Class: "build", Payloads: []string{"a", "b"}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?status=pending&limit=1", nil)
	w := httptest.NewRecorder()
	srv.handleTasks(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp struct {
		Tasks []api.TaskView `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].Title != "a" {
		t.Fatalf("unexpected tasks: %+v", resp.Tasks)
	}
}

func TestAPIServerHandleTasksRejectsBadStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.handleTasks(w, httptest.NewRequest(http.MethodGet, "/api/tasks?status=bogus", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAPIServerHandleTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.handleTask(w, httptest.NewRequest(http.MethodGet, "/api/tasks/99", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	srv.handleTask(w, httptest.NewRequest(http.MethodGet, "/api/tasks/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAPIServerRejectsWrites(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.handleEvents(w, httptest.NewRequest(http.MethodPost, "/api/events", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }
	cases := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"no token configured", "", "", http.StatusNoContent},
		{"missing header", "t0k", "", http.StatusUnauthorized},
		{"wrong token", "t0k", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "t0k", "Bearer t0k", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.token, ok)(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestAPIServerHandleTasksDefaultLimit(t *testing.T) {
	srv, q := newTestServer(t)
	payloads := make([]string, queue.DefaultListLimit+5)
	for i := range payloads {
		payloads[i] = "task"
	}
	if _, err := q.Enqueue(context.Background(), queue.EnqueueRequest{Class: "build", Payloads: payloads}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	decode := func(target string) int {
		w := httptest.NewRecorder()
		srv.handleTasks(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 OK for %s, got %d", target, w.Code)
		}
		var resp struct {
			Tasks []api.TaskView `json:"tasks"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		return len(resp.Tasks)
	}

	if n := decode("/api/tasks"); n != queue.DefaultListLimit {
		t.Fatalf("expected %d tasks without a limit, got %d", queue.DefaultListLimit, n)
	}
	if n := decode("/api/tasks?limit=0"); n != len(payloads) {
		t.Fatalf("expected every task with limit=0, got %d", n)
	}
}
