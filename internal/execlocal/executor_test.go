package execlocal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quantlab-data/orchestra/internal/sweep"
)

// fakeAdapter is an in-memory ProjectAdapter for dispatch and caching tests.
type fakeAdapter struct {
	label      string
	adaptErr   error
	execResult *sweep.ExperimentResult
	execErr    error
	compatible bool

	adaptCalls int
	execCalls  int
}

func (f *fakeAdapter) AdaptProject(path string) error {
	f.adaptCalls++
	return f.adaptErr
}

func (f *fakeAdapter) ExecuteWithParameters(ctx context.Context, params map[string]any) (*sweep.ExperimentResult, error) {
	f.execCalls++
	if f.execErr != nil {
		return nil, f.execErr
	}
	res := *f.execResult
	res.Parameters = params
	return &res, nil
}

func (f *fakeAdapter) ExtractMetrics(raw *sweep.RawRunOutput) map[string]float64 {
	return map[string]float64{}
}

func (f *fakeAdapter) ValidateCompatibility() *sweep.CompatibilityReport {
	return &sweep.CompatibilityReport{Compatible: f.compatible}
}

func (f *fakeAdapter) ParameterSchema() map[string]sweep.ParameterSpec { return nil }

func completedResult() *sweep.ExperimentResult {
	return &sweep.ExperimentResult{
		ProjectName: "fake",
		Metrics:     map[string]float64{"accuracy": 1.0},
		Status:      sweep.StatusCompleted,
	}
}

func ruleFor(match string, ad *fakeAdapter) AdapterRule {
	return AdapterRule{
		Match: func(name string) bool { return strings.Contains(name, match) },
		New:   func(path string) sweep.ProjectAdapter { return ad },
	}
}

func TestExecuteOverlaysExperimentMetadata(t *testing.T) {
	fake := &fakeAdapter{execResult: completedResult(), compatible: true}
	e := NewWithRules([]AdapterRule{ruleFor("", fake)})

	exp := &sweep.Experiment{
		ID:          "sweep_proj_0",
		ProjectPath: t.TempDir(),
		Parameters:  map[string]any{"gamma": 1.0},
	}
	res, err := e.Execute(context.Background(), exp)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExperimentID != "sweep_proj_0" {
		t.Errorf("experiment id = %q, adapter id must be overwritten", res.ExperimentID)
	}
	if res.Status != sweep.StatusCompleted {
		t.Errorf("status = %s", res.Status)
	}
	if res.ExecutionTime < 0 {
		t.Errorf("execution time = %s", res.ExecutionTime)
	}
}

func TestExecuteKeepsFailedStatus(t *testing.T) {
	failed := &sweep.ExperimentResult{
		ProjectName:  "fake",
		Metrics:      map[string]float64{},
		Status:       sweep.StatusFailed,
		ErrorMessage: "exit status 1",
	}
	fake := &fakeAdapter{execResult: failed, compatible: true}
	e := NewWithRules([]AdapterRule{ruleFor("", fake)})

	exp := &sweep.Experiment{ID: "sweep_proj_1", ProjectPath: t.TempDir()}
	res, err := e.Execute(context.Background(), exp)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != sweep.StatusFailed {
		t.Errorf("status = %s, failed runs must not report COMPLETED", res.Status)
	}
	if res.ErrorMessage != "exit status 1" {
		t.Errorf("error message = %q", res.ErrorMessage)
	}
	if res.ExperimentID != "sweep_proj_1" {
		t.Errorf("experiment id = %q", res.ExperimentID)
	}
}

func TestExecuteAdaptFailure(t *testing.T) {
	fake := &fakeAdapter{adaptErr: errors.New("broken project")}
	e := NewWithRules([]AdapterRule{ruleFor("", fake)})

	exp := &sweep.Experiment{ID: "x", ProjectPath: t.TempDir()}
	if _, err := e.Execute(context.Background(), exp); err == nil {
		t.Fatal("expected error when the project cannot be adapted")
	}
}

func TestAdapterDispatchAndCaching(t *testing.T) {
	fmoFake := &fakeAdapter{execResult: completedResult(), compatible: true}
	genericFake := &fakeAdapter{execResult: completedResult(), compatible: true}
	e := NewWithRules([]AdapterRule{
		ruleFor("fmo", fmoFake),
		ruleFor("", genericFake),
	})

	fmoPath := t.TempDir() + "/fmo_project"
	otherPath := t.TempDir() + "/qec_project"

	for i := 0; i < 3; i++ {
		if _, err := e.adapterFor(fmoPath); err != nil {
			t.Fatalf("adapterFor fmo: %v", err)
		}
	}
	if _, err := e.adapterFor(otherPath); err != nil {
		t.Fatalf("adapterFor generic: %v", err)
	}

	if fmoFake.adaptCalls != 1 {
		t.Errorf("fmo adapter adapted %d times, want 1 (must be cached)", fmoFake.adaptCalls)
	}
	if genericFake.adaptCalls != 1 {
		t.Errorf("generic adapter adapted %d times, want 1", genericFake.adaptCalls)
	}

	e.Cleanup()
	if _, err := e.adapterFor(fmoPath); err != nil {
		t.Fatalf("adapterFor after cleanup: %v", err)
	}
	if fmoFake.adaptCalls != 2 {
		t.Errorf("cleanup should drop the cache, adaptCalls = %d", fmoFake.adaptCalls)
	}
}

func TestCanExecute(t *testing.T) {
	compatible := &fakeAdapter{execResult: completedResult(), compatible: true}
	incompatible := &fakeAdapter{execResult: completedResult(), compatible: false}

	t.Run("compatible project", func(t *testing.T) {
		e := NewWithRules([]AdapterRule{ruleFor("", compatible)})
		exp := &sweep.Experiment{ID: "a", ProjectPath: t.TempDir()}
		if !e.CanExecute(exp) {
			t.Error("expected executable")
		}
	})

	t.Run("incompatible project", func(t *testing.T) {
		e := NewWithRules([]AdapterRule{ruleFor("", incompatible)})
		exp := &sweep.Experiment{ID: "b", ProjectPath: t.TempDir()}
		if e.CanExecute(exp) {
			t.Error("expected not executable")
		}
	})

	t.Run("missing project path", func(t *testing.T) {
		e := NewWithRules([]AdapterRule{ruleFor("", compatible)})
		exp := &sweep.Experiment{ID: "c", ProjectPath: "/does/not/exist"}
		if e.CanExecute(exp) {
			t.Error("expected not executable for missing path")
		}
	})
}

func TestEstimateDuration(t *testing.T) {
	e := New()
	params2 := map[string]any{"a": 1.0, "b": 2.0}

	tests := []struct {
		path string
		want time.Duration
	}{
		{"projects/fmo_project", 30*time.Second + 10*time.Second + 60*time.Second},
		{"projects/qec_project", 30*time.Second + 10*time.Second + 45*time.Second},
		{"projects/other_project", 30*time.Second + 10*time.Second + 30*time.Second},
	}
	for _, tt := range tests {
		exp := &sweep.Experiment{ProjectPath: tt.path, Parameters: params2}
		if got := e.EstimateDuration(exp); got != tt.want {
			t.Errorf("EstimateDuration(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestEstimateDurationCapped(t *testing.T) {
	e := New()
	e.maxExecutionTime = time.Minute
	exp := &sweep.Experiment{ProjectPath: "projects/fmo_project", Parameters: map[string]any{"a": 1.0}}
	if got := e.EstimateDuration(exp); got != time.Minute {
		t.Errorf("EstimateDuration = %s, want cap %s", got, time.Minute)
	}
}

func TestEstimateCostIsZero(t *testing.T) {
	e := New()
	if got := e.EstimateCost(&sweep.Experiment{}); got != 0.0 {
		t.Errorf("EstimateCost = %g, want 0", got)
	}
}

func TestDefaultRulesDispatch(t *testing.T) {
	rules := DefaultRules()
	if len(rules) != 2 {
		t.Fatalf("expected 2 default rules, got %d", len(rules))
	}
	if !rules[0].Match("fmo_project") {
		t.Error("first rule should match fmo projects")
	}
	if rules[0].Match("qec_project") {
		t.Error("first rule should not match non-fmo projects")
	}
	if !rules[1].Match("anything") {
		t.Error("fallback rule should match everything")
	}
}
