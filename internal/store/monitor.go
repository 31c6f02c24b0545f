package store

import (
	"sync"

	"github.com/quantlab-data/orchestra/internal/monitoring"
	"github.com/quantlab-data/orchestra/internal/sweep"
)

// Monitor is a sweep.ProgressMonitor that mirrors execution progress into the
// store as it happens. Lookup resolves an execution ID to its current
// snapshot; wire it to the scheduler's ExecutionStatus.
//
// Monitor calls run on the scheduler's control goroutine, so all writes here
// are fire-and-forget: a persistence error is logged, never propagated.
type Monitor struct {
	store  *Store
	lookup func(executionID string) *sweep.SweepExecution

	mu        sync.Mutex
	persisted map[string]int
}

// NewMonitor creates a store-backed progress monitor.
func NewMonitor(s *Store, lookup func(executionID string) *sweep.SweepExecution) *Monitor {
	return &Monitor{
		store:     s,
		lookup:    lookup,
		persisted: make(map[string]int),
	}
}

// StartMonitoring persists the freshly scheduled execution.
func (m *Monitor) StartMonitoring(executionID string) {
	e := m.lookup(executionID)
	if e == nil {
		monitoring.Logf("store monitor: unknown execution %s", executionID)
		return
	}
	if err := m.store.InsertExecution(e); err != nil {
		monitoring.Logf("store monitor: %v", err)
		return
	}
	m.mu.Lock()
	m.persisted[executionID] = 0
	m.mu.Unlock()
}

// UpdateProgress appends any results not yet persisted. Results arrive
// append-only and in order, so a per-execution high-water mark is enough.
func (m *Monitor) UpdateProgress(executionID string, progress float64, results []*sweep.ExperimentResult) {
	m.mu.Lock()
	seen := m.persisted[executionID]
	m.mu.Unlock()

	for ; seen < len(results); seen++ {
		if err := m.store.AppendResult(executionID, results[seen]); err != nil {
			monitoring.Logf("store monitor: %v", err)
			break
		}
	}

	m.mu.Lock()
	m.persisted[executionID] = seen
	m.mu.Unlock()
}

// StopMonitoring persists the execution's terminal state.
func (m *Monitor) StopMonitoring(executionID string) {
	e := m.lookup(executionID)
	if e == nil {
		return
	}
	status := e.Status
	endTime := e.StartTime
	if e.EndTime != nil {
		endTime = e.EndTime
	}
	if endTime == nil {
		return
	}
	if err := m.store.FinalizeExecution(executionID, status, *endTime, e.TotalCost); err != nil {
		monitoring.Logf("store monitor: %v", err)
	}
	// The high-water mark stays: late results for a cancelled execution may
	// still flow through UpdateProgress.
}
