// Package adapter drives external research projects as black boxes: it maps
// sweep parameters onto a program invocation and scrapes standardized metrics
// back out of the program's output.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/quantlab-data/orchestra/internal/monitoring"
	"github.com/quantlab-data/orchestra/internal/sweep"
)

// DefaultTimeout bounds a single project run.
const DefaultTimeout = 5 * time.Minute

// metricKeywords gate which "name: value" stdout lines are treated as metrics.
var metricKeywords = []string{"accuracy", "fidelity", "efficiency", "error", "cost", "time"}

// ScriptAdapter runs a project's entry-point script in the project directory
// and parses metrics out of its stdout. Parameters are passed twice: as a JSON
// file named by ORCH_PARAM_FILE, and individually as ORCH_PARAM_<NAME>
// environment variables, so projects can pick whichever is convenient.
type ScriptAdapter struct {
	Interpreter string
	EntryPoint  string
	QuickFlag   bool
	Timeout     time.Duration

	projectPath string
	projectName string

	mu     sync.Mutex
	compat *sweep.CompatibilityReport
	schema map[string]sweep.ParameterSpec
}

// NewScriptAdapter creates an adapter for the project at path. The defaults
// match the convention the research projects follow: a python3 main.py that
// accepts a --quick flag.
func NewScriptAdapter(path string) *ScriptAdapter {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &ScriptAdapter{
		Interpreter: "python3",
		EntryPoint:  "main.py",
		QuickFlag:   true,
		Timeout:     DefaultTimeout,
		projectPath: abs,
		projectName: filepath.Base(abs),
	}
}

// ProjectName returns the basename of the adapted project.
func (a *ScriptAdapter) ProjectName() string { return a.projectName }

// ProjectPath returns the absolute project directory.
func (a *ScriptAdapter) ProjectPath() string { return a.projectPath }

// AdaptProject re-targets the adapter at path and verifies the project is
// runnable. It fails when the directory or entry point is missing, or when
// compatibility validation finds blocking issues.
func (a *ScriptAdapter) AdaptProject(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve project path %s: %w", path, err)
	}

	a.mu.Lock()
	a.projectPath = abs
	a.projectName = filepath.Base(abs)
	a.compat = nil
	a.mu.Unlock()

	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("project path does not exist: %s", path)
	}
	entry := filepath.Join(abs, a.EntryPoint)
	if _, err := os.Stat(entry); err != nil {
		return fmt.Errorf("%s not found in %s", a.EntryPoint, path)
	}

	report := a.ValidateCompatibility()
	if !report.Compatible {
		return fmt.Errorf("project not compatible: %s", strings.Join(report.Issues, "; "))
	}
	return nil
}

// ExecuteWithParameters runs the project once with params. Program failures
// (bad exit status, timeout) come back as a FAILED result rather than an
// error; only environmental problems such as an unwritable temp dir surface
// as errors.
func (a *ScriptAdapter) ExecuteWithParameters(ctx context.Context, params map[string]any) (*sweep.ExperimentResult, error) {
	return a.executeWith(ctx, params, nil, a.ExtractMetrics)
}

// executeWith is the shared invocation path. Specialized adapters layer their
// own environment variables and metric extraction on top of it.
func (a *ScriptAdapter) executeWith(ctx context.Context, params map[string]any, extraEnv []string, extract func(*sweep.RawRunOutput) map[string]float64) (*sweep.ExperimentResult, error) {
	start := time.Now()
	experimentID := fmt.Sprintf("%s_%s", a.projectName, start.UTC().Format("20060102_150405"))

	paramFile, err := writeParamFile(params)
	if err != nil {
		return nil, err
	}
	defer os.Remove(paramFile)

	env := append(os.Environ(), "ORCH_PARAM_FILE="+paramFile)
	for key, value := range params {
		env = append(env, fmt.Sprintf("ORCH_PARAM_%s=%v", strings.ToUpper(key), value))
	}
	env = append(env, extraEnv...)

	raw, runErr := a.runEntryPoint(ctx, env)
	elapsed := time.Since(start)

	res := &sweep.ExperimentResult{
		ExperimentID:  experimentID,
		ProjectName:   a.projectName,
		Parameters:    params,
		ExecutionTime: elapsed,
		Timestamp:     start,
	}
	if runErr != nil {
		monitoring.Logf("project %s execution failed: %v", a.projectName, runErr)
		res.Status = sweep.StatusFailed
		res.ErrorMessage = runErr.Error()
		res.Metrics = map[string]float64{}
	} else {
		res.Status = sweep.StatusCompleted
		res.Metrics = extract(raw)
	}
	res.FillHash()
	return res, nil
}

// runEntryPoint invokes the project's entry point with the adapter's timeout
// layered onto ctx. A non-zero exit is reported as an error carrying stderr.
func (a *ScriptAdapter) runEntryPoint(ctx context.Context, env []string) (*sweep.RawRunOutput, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{filepath.Join(a.projectPath, a.EntryPoint)}
	if a.QuickFlag {
		args = append(args, "--quick")
	}
	cmd := exec.CommandContext(ctx, a.Interpreter, args...)
	cmd.Dir = a.projectPath
	cmd.Env = env

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	raw := &sweep.RawRunOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		raw.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() == context.DeadlineExceeded {
		return raw, fmt.Errorf("project execution timed out after %s", timeout)
	}
	if err != nil {
		return raw, fmt.Errorf("project execution failed: %s", firstNonEmpty(raw.Stderr, err.Error()))
	}
	return raw, nil
}

// ExtractMetrics scrapes "name: value" lines from stdout. Only lines
// mentioning a known metric keyword qualify, plus the "Final ...: value"
// convention which maps to final_result. A run that yields no metrics at all
// reports execution_success instead so every result carries at least one
// number.
func (a *ScriptAdapter) ExtractMetrics(raw *sweep.RawRunOutput) map[string]float64 {
	metrics := make(map[string]float64)
	if raw == nil {
		return metrics
	}

	for _, line := range strings.Split(raw.Stdout, "\n") {
		line = strings.TrimSpace(line)
		name, value, ok := splitMetricLine(line)
		if !ok {
			continue
		}
		lower := strings.ToLower(line)
		for _, kw := range metricKeywords {
			if strings.Contains(lower, kw) {
				metrics[name] = value
				break
			}
		}
		if strings.HasPrefix(lower, "final") {
			metrics["final_result"] = value
		}
	}

	if len(metrics) == 0 {
		if raw.ExitCode == 0 {
			metrics["execution_success"] = 1.0
		} else {
			metrics["execution_success"] = 0.0
		}
	}
	return metrics
}

// ValidateCompatibility checks the project layout once and caches the report.
// A missing entry point blocks execution; missing requirements files, tests,
// or --quick support only warn.
func (a *ScriptAdapter) ValidateCompatibility() *sweep.CompatibilityReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.compat != nil {
		return a.compat
	}
	a.compat = a.buildReport()
	return a.compat
}

// buildReport runs the generic layout checks. Callers must hold a.mu;
// specialized adapters extend the fresh report before caching it themselves.
func (a *ScriptAdapter) buildReport() *sweep.CompatibilityReport {
	report := &sweep.CompatibilityReport{
		Issues:      []string{},
		Warnings:    []string{},
		ProjectPath: a.projectPath,
		ProjectName: a.projectName,
	}

	entry := filepath.Join(a.projectPath, a.EntryPoint)
	entryBody, entryErr := os.ReadFile(entry)
	if entryErr != nil {
		report.Issues = append(report.Issues, a.EntryPoint+" not found")
	}

	reqFiles := []string{"requirements.txt", "requirements_production.txt", "requirements_locked.txt"}
	hasRequirements := false
	for _, req := range reqFiles {
		if _, err := os.Stat(filepath.Join(a.projectPath, req)); err == nil {
			hasRequirements = true
			break
		}
	}
	if !hasRequirements {
		report.Warnings = append(report.Warnings, "No requirements file found")
	}

	if entryErr == nil && !strings.Contains(string(entryBody), "quick") {
		report.Warnings = append(report.Warnings, a.EntryPoint+" may not support --quick flag")
	}

	tests, _ := filepath.Glob(filepath.Join(a.projectPath, "test_*.py"))
	if len(tests) == 0 {
		report.Warnings = append(report.Warnings, "No test files found")
	}

	report.Compatible = len(report.Issues) == 0
	return report
}

// ParameterSchema returns the generic schema. Specialized adapters override
// it with project-specific parameters.
func (a *ScriptAdapter) ParameterSchema() map[string]sweep.ParameterSpec {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.schema == nil {
		a.schema = map[string]sweep.ParameterSpec{
			"quick": {
				Type:        "boolean",
				Description: "Run quick version for testing",
				Default:     true,
			},
		}
	}
	return a.schema
}

func writeParamFile(params map[string]any) (string, error) {
	f, err := os.CreateTemp("", "orch-params-*.json")
	if err != nil {
		return "", fmt.Errorf("create parameter file: %w", err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(params); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write parameter file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close parameter file: %w", err)
	}
	return f.Name(), nil
}

func splitMetricLine(line string) (string, float64, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 || strings.Count(line, ":") != 1 {
		return "", 0, false
	}
	name := strings.ToLower(strings.TrimSpace(line[:idx]))
	name = strings.ReplaceAll(name, " ", "_")
	var value float64
	if _, err := fmt.Sscanf(strings.TrimSpace(line[idx+1:]), "%g", &value); err != nil {
		return "", 0, false
	}
	// Reject lines with trailing junk after the number ("time: 3 seconds").
	rest := strings.TrimSpace(line[idx+1:])
	var check float64
	var junk string
	if n, _ := fmt.Sscanf(rest, "%g%s", &check, &junk); n > 1 {
		return "", 0, false
	}
	return name, value, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
