// Package execlocal runs experiments on the local machine by dispatching
// each project to a matching adapter.
package execlocal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/quantlab-data/orchestra/internal/adapter"
	"github.com/quantlab-data/orchestra/internal/monitoring"
	"github.com/quantlab-data/orchestra/internal/sweep"
)

// DefaultMaxExecutionTime caps the duration estimate for any single
// experiment.
const DefaultMaxExecutionTime = time.Hour

// AdapterRule maps a project to the adapter that drives it. Rules are
// consulted in order; the first match wins.
type AdapterRule struct {
	// Match reports whether the rule applies to the project basename
	// (lowercased).
	Match func(projectName string) bool

	// New builds a fresh adapter for the project at path.
	New func(path string) sweep.ProjectAdapter
}

// DefaultRules returns the standard dispatch table: FMO projects get the
// specialized adapter, everything else the generic script adapter.
func DefaultRules() []AdapterRule {
	return []AdapterRule{
		{
			Match: func(name string) bool { return strings.Contains(name, "fmo") },
			New:   func(path string) sweep.ProjectAdapter { return adapter.NewFMOAdapter(path) },
		},
		{
			Match: func(string) bool { return true },
			New:   func(path string) sweep.ProjectAdapter { return adapter.NewScriptAdapter(path) },
		},
	}
}

// Executor runs experiments in-process via project adapters. Adapters are
// created lazily, adapted on first use, and cached per project path, so the
// one-time compatibility work is shared across a sweep's experiments.
type Executor struct {
	rules            []AdapterRule
	maxExecutionTime time.Duration

	mu       sync.Mutex
	adapters map[string]sweep.ProjectAdapter
}

// New creates a local executor with the default adapter dispatch rules.
func New() *Executor {
	return NewWithRules(DefaultRules())
}

// NewWithRules creates a local executor with a custom dispatch table.
func NewWithRules(rules []AdapterRule) *Executor {
	return &Executor{
		rules:            rules,
		maxExecutionTime: DefaultMaxExecutionTime,
		adapters:         make(map[string]sweep.ProjectAdapter),
	}
}

// Execute runs one experiment through its project's adapter. Adapter-level
// failures come back as a FAILED result; this method returns an error only
// when no adapter can be built for the project at all.
func (e *Executor) Execute(ctx context.Context, exp *sweep.Experiment) (*sweep.ExperimentResult, error) {
	monitoring.Logf("executing experiment %s", exp.ID)
	start := time.Now()

	ad, err := e.adapterFor(exp.ProjectPath)
	if err != nil {
		return nil, err
	}

	res, err := ad.ExecuteWithParameters(ctx, exp.Parameters)
	if err != nil {
		return nil, fmt.Errorf("experiment %s: %w", exp.ID, err)
	}

	res.ExperimentID = exp.ID
	res.ExecutionTime = time.Since(start)
	if res.Status == sweep.StatusCompleted {
		monitoring.Logf("experiment %s completed", exp.ID)
	} else {
		monitoring.Logf("experiment %s failed: %s", exp.ID, res.ErrorMessage)
	}
	return res, nil
}

// EstimateDuration is a coarse heuristic: a fixed base, a term per parameter,
// and a per-project-family term, capped at the executor's maximum.
func (e *Executor) EstimateDuration(exp *sweep.Experiment) time.Duration {
	base := 30 * time.Second
	complexity := time.Duration(len(exp.Parameters)) * 5 * time.Second

	var project time.Duration
	name := strings.ToLower(filepath.Base(exp.ProjectPath))
	switch {
	case strings.Contains(name, "fmo"):
		project = 60 * time.Second
	case strings.Contains(name, "qec"):
		project = 45 * time.Second
	default:
		project = 30 * time.Second
	}

	total := base + complexity + project
	if total > e.maxExecutionTime {
		total = e.maxExecutionTime
	}
	return total
}

// EstimateCost reports zero: local execution is free.
func (e *Executor) EstimateCost(exp *sweep.Experiment) float64 { return 0.0 }

// CanExecute reports whether the project exists and its adapter finds it
// compatible.
func (e *Executor) CanExecute(exp *sweep.Experiment) bool {
	if _, err := os.Stat(exp.ProjectPath); err != nil {
		return false
	}
	ad, err := e.adapterFor(exp.ProjectPath)
	if err != nil {
		monitoring.Debugf("cannot execute experiment %s: %v", exp.ID, err)
		return false
	}
	return ad.ValidateCompatibility().Compatible
}

// adapterFor returns the cached adapter for the project path, building and
// adapting one on first use.
func (e *Executor) adapterFor(projectPath string) (sweep.ProjectAdapter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ad, ok := e.adapters[projectPath]; ok {
		return ad, nil
	}

	name := strings.ToLower(filepath.Base(projectPath))
	for _, rule := range e.rules {
		if !rule.Match(name) {
			continue
		}
		ad := rule.New(projectPath)
		if err := ad.AdaptProject(projectPath); err != nil {
			return nil, fmt.Errorf("adapt project %s: %w", projectPath, err)
		}
		e.adapters[projectPath] = ad
		return ad, nil
	}
	return nil, fmt.Errorf("no adapter rule matches project %s", projectPath)
}

// Cleanup drops all cached adapters.
func (e *Executor) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters = make(map[string]sweep.ProjectAdapter)
	monitoring.Logf("local executor cleaned up")
}
