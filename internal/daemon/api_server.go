package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hive/internal/api"
	"hive/internal/config"
	"hive/internal/errs"
	"hive/internal/logging"
	"hive/internal/queue"
	"hive/internal/store"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	views  *api.Service

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Daemon.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
		views:  d.views,
	}
	token := cfg.Daemon.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/dashboard", authMiddleware(token, srv.handleDashboard))
	mux.HandleFunc("/api/workers", authMiddleware(token, srv.handleWorkers))
	mux.HandleFunc("/api/tasks", authMiddleware(token, srv.handleTasks))
	mux.HandleFunc("/api/tasks/", authMiddleware(token, srv.handleTask))
	mux.HandleFunc("/api/events", authMiddleware(token, srv.handleEvents))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type statusResponse struct {
	Running           bool     `json:"running"`
	PID               int      `json:"pid"`
	Backend           string   `json:"backend"`
	StoreLocation     string   `json:"storeLocation"`
	LockFilePath      string   `json:"lockFilePath"`
	SupervisorRunning bool     `json:"supervisorRunning"`
	LastError         string   `json:"lastError,omitempty"`
	LastCheck         string   `json:"lastCheck,omitempty"`
	Unresponsive      []string `json:"unresponsive,omitempty"`
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	status := s.daemon.Status()
	resp := statusResponse{
		Running:           status.Running,
		PID:               status.PID,
		Backend:           status.Backend,
		StoreLocation:     status.StoreLocation,
		LockFilePath:      status.LockFilePath,
		SupervisorRunning: status.SupervisorRunning,
		LastError:         status.LastError,
		Unresponsive:      status.LastReport.Unresponsive,
	}
	if !status.LastReport.CheckedAt.IsZero() {
		resp.LastCheck = status.LastReport.CheckedAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	dash, err := s.views.Dashboard(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dash)
}

func (s *apiServer) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	workers, err := s.views.Workers(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	query, err := parseTaskQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.views.Tasks(r.Context(), query)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func parseTaskQuery(r *http.Request) (queue.Query, error) {
	values := r.URL.Query()
	query := queue.Query{
		Class: strings.TrimSpace(values.Get("class")),
		Owner: strings.TrimSpace(values.Get("owner")),
		Limit: queue.DefaultListLimit,
	}
	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		status, ok := store.ParseTaskStatus(raw)
		if !ok {
			return queue.Query{}, fmt.Errorf("unknown status %q", raw)
		}
		query.Status = status
	}
	if raw := strings.TrimSpace(values.Get("layer")); raw != "" {
		layer, err := strconv.Atoi(raw)
		if err != nil {
			return queue.Query{}, fmt.Errorf("invalid layer %q", raw)
		}
		query.Layer = &layer
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return queue.Query{}, fmt.Errorf("invalid limit %q", raw)
		}
		query.Limit = limit
	}
	return query, nil
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if idStr == "" || strings.Contains(idStr, "/") {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := s.views.Task(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	query := store.EventQuery{WorkerID: strings.TrimSpace(r.URL.Query().Get("worker"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		query.Limit = limit
	}
	events, err := s.views.Events(r.Context(), query)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *apiServer) allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func (s *apiServer) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errs.KindOf(err) == errs.KindContention:
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
