package sweep

import (
	"context"
	"time"
)

// Executor abstracts a backend that can run experiments. The scheduler
// selects, among all executors whose CanExecute returns true, the one with
// the lowest EstimateCost; ties go to the first-registered executor. That
// tie-break is a public ordering contract, not an accident of list order.
//
// Execute may return an error; the scheduler's worker converts it into a
// FAILED result, so a misbehaving executor never aborts a sweep.
type Executor interface {
	// Execute runs the experiment to completion and returns its result.
	Execute(ctx context.Context, exp *Experiment) (*ExperimentResult, error)

	// EstimateDuration estimates the wall-clock time the experiment needs.
	EstimateDuration(exp *Experiment) time.Duration

	// EstimateCost estimates the monetary cost of running the experiment.
	EstimateCost(exp *Experiment) float64

	// CanExecute reports whether this executor can handle the experiment.
	// Implementations must not return an error; an un-runnable experiment
	// is expressed as false.
	CanExecute(exp *Experiment) bool
}

// RawRunOutput is the raw outcome of one external program invocation, handed
// to an adapter's metric extraction.
type RawRunOutput struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    int    `json:"exit_code"`
	ProjectType string `json:"project_type,omitempty"`
}

// CompatibilityReport describes whether a project can be orchestrated.
// Issues block execution; warnings do not.
type CompatibilityReport struct {
	Compatible  bool     `json:"compatible"`
	Issues      []string `json:"issues"`
	Warnings    []string `json:"warnings"`
	ProjectPath string   `json:"project_path"`
	ProjectName string   `json:"project_name"`
	ProjectType string   `json:"project_type,omitempty"`
}

// ParameterSpec describes one parameter a project accepts.
type ParameterSpec struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Default     any       `json:"default,omitempty"`
	Range       []float64 `json:"range,omitempty"`
}

// ProjectAdapter maps generic sweep parameters onto one specific external
// program invocation and turns its output into standardized metrics. This is
// the seam across which arbitrary research scripts are driven as black
// boxes; the scheduler never looks past this contract.
type ProjectAdapter interface {
	// AdaptProject performs the one-time readiness check for the project at
	// path. It must be called before ExecuteWithParameters.
	AdaptProject(path string) error

	// ExecuteWithParameters runs the external program with the given
	// parameters and returns a standardized result. Failures are reported
	// as a FAILED result rather than an error wherever the program itself
	// is at fault.
	ExecuteWithParameters(ctx context.Context, params map[string]any) (*ExperimentResult, error)

	// ExtractMetrics scrapes standardized metrics from raw program output.
	ExtractMetrics(raw *RawRunOutput) map[string]float64

	// ValidateCompatibility reports project compatibility. The report is
	// computed once and cached for the adapter's lifetime.
	ValidateCompatibility() *CompatibilityReport

	// ParameterSchema describes the parameters the project understands.
	ParameterSchema() map[string]ParameterSpec
}

// ProgressMonitor is an optional collaborator notified about execution
// lifecycle and progress. Calls run inline on the scheduler's control
// goroutine, so implementations must not block for long and must not panic.
type ProgressMonitor interface {
	StartMonitoring(executionID string)
	UpdateProgress(executionID string, progress float64, results []*ExperimentResult)
	StopMonitoring(executionID string)
}
