package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quantlab-data/orchestra/internal/sweep"
)

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, exp *sweep.Experiment) (*sweep.ExperimentResult, error) {
	res := &sweep.ExperimentResult{
		ExperimentID: exp.ID,
		ProjectName:  "test_project",
		Parameters:   exp.Parameters,
		Metrics:      map[string]float64{"accuracy": 0.9},
		Status:       sweep.StatusCompleted,
	}
	res.FillHash()
	return res, nil
}

func (stubExecutor) EstimateDuration(exp *sweep.Experiment) time.Duration { return time.Millisecond }
func (stubExecutor) EstimateCost(exp *sweep.Experiment) float64           { return 0 }
func (stubExecutor) CanExecute(exp *sweep.Experiment) bool                { return true }

const sweepConfigJSON = `{
	"name": "api_sweep",
	"project_paths": ["projects/test_project"],
	"parameters": [
		{"name": "gamma", "type": "categorical", "choices": [0.1, 0.2]}
	],
	"objectives": ["accuracy"]
}`

func newTestServer(t *testing.T) (*Server, *sweep.Scheduler) {
	t.Helper()
	scheduler := sweep.NewScheduler([]sweep.Executor{stubExecutor{}}, nil, 2)
	t.Cleanup(scheduler.Stop)
	return NewServer(Config{Address: ":0", Scheduler: scheduler}), scheduler
}

func scheduleViaAPI(t *testing.T, mux http.Handler) *sweep.SweepExecution {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sweeps", strings.NewReader(sweepConfigJSON))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/sweeps = %d: %s", rec.Code, rec.Body.String())
	}
	var execution sweep.SweepExecution
	if err := json.NewDecoder(rec.Body).Decode(&execution); err != nil {
		t.Fatalf("decode execution: %v", err)
	}
	return &execution
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.setupRoutes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
}

func TestScheduleAndFetchSweep(t *testing.T) {
	s, scheduler := newTestServer(t)
	mux := s.setupRoutes()

	execution := scheduleViaAPI(t, mux)
	if len(execution.Experiments) != 2 {
		t.Fatalf("expected 2 experiments, got %d", len(execution.Experiments))
	}

	if _, err := scheduler.WaitForCompletion(execution.ID, 5*time.Second); err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sweeps/"+execution.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/sweeps/{id} = %d", rec.Code)
	}
	var fetched sweep.SweepExecution
	if err := json.NewDecoder(rec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.Status != sweep.ExecutionCompleted {
		t.Errorf("status = %s, want completed", fetched.Status)
	}
	if len(fetched.Results) != 2 {
		t.Errorf("results = %d, want 2", len(fetched.Results))
	}
}

func TestScheduleRejectsInvalidConfig(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.setupRoutes()

	for _, body := range []string{"{not json", `{"name": "x"}`} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sweeps", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("POST %q = %d, want 400", body, rec.Code)
		}
	}
}

func TestScheduleConfinesProjectPaths(t *testing.T) {
	scheduler := sweep.NewScheduler([]sweep.Executor{stubExecutor{}}, nil, 2)
	t.Cleanup(scheduler.Stop)
	s := NewServer(Config{Address: ":0", Scheduler: scheduler, ProjectsRoot: t.TempDir()})
	mux := s.setupRoutes()

	body := strings.Replace(sweepConfigJSON, "projects/test_project", "/etc/passwd", 1)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sweeps", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST with escaping path = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "project path rejected") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestListSweeps(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.setupRoutes()
	scheduleViaAPI(t, mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sweeps", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/sweeps = %d", rec.Code)
	}
	var executions []*sweep.SweepExecution
	if err := json.NewDecoder(rec.Body).Decode(&executions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(executions) != 1 {
		t.Errorf("executions = %d, want 1", len(executions))
	}
}

func TestUnknownExecution(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.setupRoutes()

	for _, path := range []string{"/api/sweeps/nope", "/api/sweeps/nope/summary", "/api/sweeps/nope/chart"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	s, scheduler := newTestServer(t)
	mux := s.setupRoutes()
	execution := scheduleViaAPI(t, mux)

	post := func(action string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sweeps/"+execution.ID+"/"+action, nil))
		return rec.Code
	}

	// The sweep may have completed already; cancel is only valid from
	// running or paused, and a second cancel must always conflict.
	first := post("cancel")
	if first != http.StatusOK && first != http.StatusConflict {
		t.Fatalf("first cancel = %d", first)
	}
	if code := post("cancel"); code != http.StatusConflict && first == http.StatusOK {
		t.Errorf("second cancel = %d, want 409", code)
	}

	if _, err := scheduler.WaitForCompletion(execution.ID, 5*time.Second); err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
}

func TestTransitionRequiresPost(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.setupRoutes()
	execution := scheduleViaAPI(t, mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sweeps/"+execution.ID+"/pause", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET pause = %d, want 405", rec.Code)
	}
}

func TestSummaryAndChart(t *testing.T) {
	s, scheduler := newTestServer(t)
	mux := s.setupRoutes()
	execution := scheduleViaAPI(t, mux)
	if _, err := scheduler.WaitForCompletion(execution.ID, 5*time.Second); err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sweeps/"+execution.ID+"/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET summary = %d", rec.Code)
	}
	var summaries []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0]["objective"] != "accuracy" {
		t.Errorf("summaries = %v", summaries)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sweeps/"+execution.ID+"/chart", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET chart = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("chart content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "api_sweep") {
		t.Error("chart missing sweep name")
	}
}

func TestStats(t *testing.T) {
	s, scheduler := newTestServer(t)
	mux := s.setupRoutes()
	execution := scheduleViaAPI(t, mux)
	if _, err := scheduler.WaitForCompletion(execution.ID, 5*time.Second); err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/stats = %d", rec.Code)
	}
	var stats sweep.Statistics
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalExperimentsExecuted != 2 {
		t.Errorf("total executed = %d, want 2", stats.TotalExperimentsExecuted)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.setupRoutes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/history = %d, want 404 without a store", rec.Code)
	}
}
