package sweep

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantlab-data/orchestra/internal/monitoring"
)

const (
	// idleTick bounds how long the control loop sleeps when nothing is
	// queued and no worker has reported back.
	idleTick = 50 * time.Millisecond

	// errorBackoff is how long the control loop backs off after an
	// unexpected internal error before continuing.
	errorBackoff = time.Second
)

// Statistics are the scheduler-wide cumulative counters.
type Statistics struct {
	TotalExperimentsExecuted int           `json:"total_experiments_executed"`
	TotalExecutionTime       time.Duration `json:"total_execution_time"`
	TotalCost                float64       `json:"total_cost"`
	ActiveExecutions         int           `json:"active_executions"`
	QueueDepth               int           `json:"queue_depth"`
	AverageExecutionTime     time.Duration `json:"average_execution_time"`
}

// Scheduler is the orchestration engine: it expands sweep configurations
// into experiments, queues them by priority, and runs a single control
// goroutine that keeps a bounded pool of workers busy and routes completed
// results back into their owning execution.
//
// The control goroutine is the sole writer of the queue, the executions map,
// and per-execution result lists; workers only compute results and hand them
// back over a channel. Callers read state through accessors that return
// copies. Lifecycle is caller-controlled via Start/Stop; there is no
// package-level singleton.
type Scheduler struct {
	executors     []Executor
	monitor       ProgressMonitor
	maxConcurrent int

	mu         sync.RWMutex
	executions map[string]*SweepExecution
	queue      experimentQueue
	running    bool
	loopDone   chan struct{}
	wake       chan struct{}

	totalExecuted int
	totalExecTime time.Duration
	totalCost     float64
}

// NewScheduler creates a scheduler over an ordered list of executor
// backends. The executor order matters: cost ties during dispatch go to the
// earlier-registered executor. maxConcurrent <= 0 selects the default.
func NewScheduler(executors []Executor, monitor ProgressMonitor, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Scheduler{
		executors:     executors,
		monitor:       monitor,
		maxConcurrent: maxConcurrent,
		executions:    make(map[string]*SweepExecution),
		wake:          make(chan struct{}, 1),
	}
}

// ScheduleSweep expands config into experiments, queues them, and returns a
// snapshot of the new execution. The background loop is started on first
// use. The execution keeps updating asynchronously; poll ExecutionStatus
// with the returned ID to observe progress.
func (s *Scheduler) ScheduleSweep(config *SweepConfiguration) (*SweepExecution, error) {
	monitoring.Logf("scheduling sweep %q", config.Name)

	experiments, err := s.generateExperiments(config)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	execution := &SweepExecution{
		ID:          uuid.New().String(),
		Config:      config,
		Experiments: experiments,
		Status:      ExecutionRunning,
		StartTime:   &now,
	}

	s.mu.Lock()
	s.executions[execution.ID] = execution
	for _, exp := range experiments {
		heap.Push(&s.queue, exp)
	}
	running := s.running
	snap := execution.snapshot()
	s.mu.Unlock()

	if !running {
		s.Start()
	}
	s.wakeLoop()

	if s.monitor != nil {
		s.monitor.StartMonitoring(execution.ID)
	}

	monitoring.Logf("scheduled %d experiments for sweep %q", len(experiments), config.Name)
	return snap, nil
}

// generateExperiments expands the combination list against every project
// path. Experiment IDs follow {sweep}_{projectBasename}_{comboIndex} and are
// stable because Combinations ordering is stable.
func (s *Scheduler) generateExperiments(config *SweepConfiguration) ([]*Experiment, error) {
	combos, err := config.Combinations()
	if err != nil {
		return nil, err
	}

	experiments := make([]*Experiment, 0, len(combos)*len(config.ProjectPaths))
	for i, params := range combos {
		for _, projectPath := range config.ProjectPaths {
			exp := &Experiment{
				ID:          fmt.Sprintf("%s_%s_%d", config.Name, filepath.Base(projectPath), i),
				ProjectPath: projectPath,
				Parameters:  params,
				Objectives:  config.Objectives,
				Priority:    1.0,
			}
			s.estimateResources(exp)
			experiments = append(experiments, exp)
		}
	}
	return experiments, nil
}

// estimateResources records the best-case (minimum) duration and cost seen
// across all capable executors. This is an estimate only; dispatch re-selects
// an executor when the experiment actually runs.
func (s *Scheduler) estimateResources(exp *Experiment) {
	var bestDur time.Duration
	var bestCost *float64
	haveDur := false
	for _, ex := range s.executors {
		if !ex.CanExecute(exp) {
			continue
		}
		if d := ex.EstimateDuration(exp); !haveDur || d < bestDur {
			bestDur = d
			haveDur = true
		}
		if c := ex.EstimateCost(exp); bestCost == nil || c < *bestCost {
			cc := c
			bestCost = &cc
		}
	}
	if haveDur {
		exp.EstimatedDuration = bestDur
	}
	exp.EstimatedCost = bestCost
}

// Start launches the background control loop if it is not already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go s.loop()
	monitoring.Logf("experiment scheduler started")
}

// Stop signals the control loop to shut down and blocks until it has drained
// the queue and all in-flight workers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	done := s.loopDone
	s.mu.Unlock()

	s.wakeLoop()
	<-done
	monitoring.Logf("experiment scheduler stopped")
}

// wakeLoop nudges the control loop without blocking. A pending wake is
// enough; further nudges coalesce.
func (s *Scheduler) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop is the scheduler's control goroutine: fill free worker slots from the
// priority queue, then wait for a completion, a wake-up, or the idle tick.
// It exits once stopped with the queue empty and no in-flight work.
func (s *Scheduler) loop() {
	defer close(s.loopDone)

	results := make(chan *ExperimentResult, s.maxConcurrent)
	inFlight := 0

	for {
		for {
			s.mu.Lock()
			if inFlight >= s.maxConcurrent || s.queue.Len() == 0 {
				s.mu.Unlock()
				break
			}
			exp := heap.Pop(&s.queue).(*Experiment)
			s.mu.Unlock()

			inFlight++
			monitoring.Debugf("submitting experiment %s", exp.ID)
			go func(exp *Experiment) {
				results <- s.runExperiment(context.Background(), exp)
			}(exp)
		}

		s.mu.RLock()
		drained := !s.running && s.queue.Len() == 0
		s.mu.RUnlock()
		if drained && inFlight == 0 {
			return
		}

		select {
		case res := <-results:
			inFlight--
			s.processResult(res)
		case <-s.wake:
		case <-time.After(idleTick):
		}
	}
}

// runExperiment executes one experiment on the lowest-cost capable executor.
// It never lets an executor error or panic escape to the control loop:
// every failure mode becomes a FAILED result.
func (s *Scheduler) runExperiment(ctx context.Context, exp *Experiment) (res *ExperimentResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("experiment %s panicked: %v", exp.ID, r)
			res = failedResult(exp, time.Since(start), fmt.Sprintf("panic: %v", r))
		}
	}()

	best := s.selectExecutor(exp)
	if best == nil {
		monitoring.Logf("experiment %s: no suitable executor found", exp.ID)
		return failedResult(exp, time.Since(start), "no suitable executor found")
	}

	result, err := best.Execute(ctx, exp)
	if err != nil || result == nil {
		msg := "executor returned no result"
		if err != nil {
			msg = err.Error()
		}
		monitoring.Logf("experiment %s failed: %s", exp.ID, msg)
		return failedResult(exp, time.Since(start), msg)
	}

	// The wall clock observed here is authoritative; the executor's own
	// timing is not trusted.
	result.ExecutionTime = time.Since(start)
	result.ExperimentID = exp.ID
	result.FillHash()

	s.mu.Lock()
	s.totalExecuted++
	s.totalExecTime += result.ExecutionTime
	if result.Cost != nil {
		s.totalCost += *result.Cost
	}
	s.mu.Unlock()

	monitoring.Debugf("experiment %s finished in %s", exp.ID, result.ExecutionTime)
	return result
}

// selectExecutor returns the capable executor with the lowest estimated
// cost. Ties go to the first-registered executor (strict less-than keeps the
// earlier winner).
func (s *Scheduler) selectExecutor(exp *Experiment) Executor {
	var best Executor
	bestCost := math.Inf(1)
	for _, ex := range s.executors {
		if !ex.CanExecute(exp) {
			continue
		}
		if cost := ex.EstimateCost(exp); cost < bestCost {
			bestCost = cost
			best = ex
		}
	}
	return best
}

// processResult routes a completed result into its owning execution. It runs
// only on the control goroutine, so result processing for one execution is
// never interleaved. Internal errors are contained with a backoff so a bad
// result can never kill the loop.
func (s *Scheduler) processResult(res *ExperimentResult) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("error processing result %s: %v", res.ExperimentID, r)
			time.Sleep(errorBackoff)
		}
	}()

	s.mu.Lock()
	var execution *SweepExecution
	for _, e := range s.executions {
		for _, exp := range e.Experiments {
			if exp.ID == res.ExperimentID {
				execution = e
				break
			}
		}
		if execution != nil {
			break
		}
	}
	if execution == nil {
		s.mu.Unlock()
		monitoring.Logf("no execution found for result %s", res.ExperimentID)
		return
	}

	execution.Results = append(execution.Results, res)
	if res.Cost != nil {
		execution.TotalCost += *res.Cost
	}

	progress := execution.Progress()
	complete := len(execution.Results) >= len(execution.Experiments)
	if complete {
		execution.Status = ExecutionCompleted
		now := time.Now()
		execution.EndTime = &now
	}
	executionID := execution.ID
	successRate := execution.SuccessRate()
	totalCost := execution.TotalCost
	resultsCopy := append([]*ExperimentResult(nil), execution.Results...)
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.UpdateProgress(executionID, progress, resultsCopy)
		if complete {
			s.monitor.StopMonitoring(executionID)
		}
	}

	if complete {
		monitoring.Logf("sweep execution %s completed: success rate %.1f%%, total cost $%.2f",
			executionID, successRate, totalCost)
	}
}

// ExecutionStatus returns a snapshot of the execution, or nil if unknown.
func (s *Scheduler) ExecutionStatus(executionID string) *SweepExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[executionID]
	if !ok {
		return nil
	}
	return e.snapshot()
}

// ListExecutions returns snapshots of every known execution.
func (s *Scheduler) ListExecutions() []*SweepExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SweepExecution, 0, len(s.executions))
	for _, e := range s.executions {
		out = append(out, e.snapshot())
	}
	return out
}

// PauseExecution marks a running execution paused. Pausing is bookkeeping
// only: experiments already queued or in flight are not interrupted.
func (s *Scheduler) PauseExecution(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[executionID]
	if !ok || e.Status != ExecutionRunning {
		return false
	}
	e.Status = ExecutionPaused
	monitoring.Logf("paused execution %s", executionID)
	return true
}

// ResumeExecution returns a paused execution to running.
func (s *Scheduler) ResumeExecution(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[executionID]
	if !ok || e.Status != ExecutionPaused {
		return false
	}
	e.Status = ExecutionRunning
	monitoring.Logf("resumed execution %s", executionID)
	return true
}

// CancelExecution cancels a running, paused, or scheduled execution and
// stamps its end time. Like pause, this is a status transition only: work
// already dispatched to the pool runs to completion, and its results are
// still routed back.
func (s *Scheduler) CancelExecution(executionID string) bool {
	s.mu.Lock()
	e, ok := s.executions[executionID]
	if !ok || (e.Status != ExecutionRunning && e.Status != ExecutionPaused && e.Status != ExecutionScheduled) {
		s.mu.Unlock()
		return false
	}
	e.Status = ExecutionCancelled
	now := time.Now()
	e.EndTime = &now
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.StopMonitoring(executionID)
	}
	monitoring.Logf("cancelled execution %s", executionID)
	return true
}

// WaitForCompletion polls until the execution reaches completed or cancelled
// status, or the timeout elapses. It returns the final snapshot.
func (s *Scheduler) WaitForCompletion(executionID string, timeout time.Duration) (*SweepExecution, error) {
	deadline := time.Now().Add(timeout)
	for {
		e := s.ExecutionStatus(executionID)
		if e == nil {
			return nil, fmt.Errorf("unknown execution %s", executionID)
		}
		if e.Status == ExecutionCompleted || e.Status == ExecutionCancelled {
			return e, nil
		}
		if time.Now().After(deadline) {
			return e, fmt.Errorf("execution %s did not complete within %s", executionID, timeout)
		}
		time.Sleep(idleTick)
	}
}

// Statistics returns the scheduler-wide counters.
func (s *Scheduler) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Statistics{
		TotalExperimentsExecuted: s.totalExecuted,
		TotalExecutionTime:       s.totalExecTime,
		TotalCost:                s.totalCost,
		ActiveExecutions:         len(s.executions),
		QueueDepth:               s.queue.Len(),
	}
	if s.totalExecuted > 0 {
		st.AverageExecutionTime = s.totalExecTime / time.Duration(s.totalExecuted)
	}
	return st
}

// failedResult synthesizes a FAILED result for an experiment that could not
// be executed.
func failedResult(exp *Experiment, elapsed time.Duration, msg string) *ExperimentResult {
	res := &ExperimentResult{
		ExperimentID:  exp.ID,
		ProjectName:   filepath.Base(exp.ProjectPath),
		Parameters:    exp.Parameters,
		Metrics:       map[string]float64{},
		ExecutionTime: elapsed,
		Status:        StatusFailed,
		ErrorMessage:  msg,
	}
	res.FillHash()
	return res
}
