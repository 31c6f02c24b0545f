package sweep

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ExperimentStatus is the lifecycle status of a single experiment result.
type ExperimentStatus string

const (
	StatusPending      ExperimentStatus = "pending"
	StatusRunning      ExperimentStatus = "running"
	StatusCompleted    ExperimentStatus = "completed"
	StatusFailed       ExperimentStatus = "failed"
	StatusCancelled    ExperimentStatus = "cancelled"
	StatusEarlyStopped ExperimentStatus = "early_stopped"
)

// Terminal reports whether the status counts toward sweep progress.
func (s ExperimentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusEarlyStopped:
		return true
	}
	return false
}

// ExecutionStatus is the lifecycle status of a sweep execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionScheduled ExecutionStatus = "scheduled"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionCompleted ExecutionStatus = "completed"
)

// Experiment is one concrete (project, parameter-combination) unit of work
// derived from a sweep. Parameters are immutable once created; Priority may
// be adjusted before dispatch, higher priorities run first.
type Experiment struct {
	ID                string         `json:"experiment_id"`
	ProjectPath       string         `json:"project_path"`
	Parameters        map[string]any `json:"parameters"`
	Objectives        []string       `json:"objectives"`
	Priority          float64        `json:"priority"`
	EstimatedDuration time.Duration  `json:"estimated_duration,omitempty"`
	EstimatedCost     *float64       `json:"estimated_cost,omitempty"`
}

// Less is the priority queue ordering contract: descending priority, ties
// broken by ascending experiment ID for deterministic, reproducible order.
func (e *Experiment) Less(other *Experiment) bool {
	if e.Priority != other.Priority {
		return e.Priority > other.Priority
	}
	return e.ID < other.ID
}

// ExperimentResult is the immutable outcome of running one experiment.
// Cost is nil when the executor did not report one; a non-nil zero is a real
// zero cost and is counted toward totals.
type ExperimentResult struct {
	ExperimentID        string             `json:"experiment_id"`
	ProjectName         string             `json:"project_name"`
	Parameters          map[string]any     `json:"parameters"`
	Metrics             map[string]float64 `json:"metrics"`
	ExecutionTime       time.Duration      `json:"execution_time"`
	Cost                *float64           `json:"cost,omitempty"`
	Status              ExperimentStatus   `json:"status"`
	ErrorMessage        string             `json:"error_message,omitempty"`
	ReproducibilityHash string             `json:"reproducibility_hash"`
	Timestamp           time.Time          `json:"timestamp"`
	Metadata            map[string]any     `json:"metadata,omitempty"`
}

// ReproducibilityHash derives a short provenance hash from the project name,
// parameters, and timestamp. The timestamp is part of the input on purpose:
// the hash identifies one run, not one parameter set, so two runs of the same
// combination hash differently.
func ReproducibilityHash(projectName string, parameters map[string]any, timestamp time.Time) string {
	payload := struct {
		ProjectName string         `json:"project_name"`
		Parameters  map[string]any `json:"parameters"`
		Timestamp   string         `json:"timestamp"`
	}{projectName, parameters, timestamp.UTC().Format(time.RFC3339Nano)}

	// Map keys marshal in sorted order, so the digest input is canonical.
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// FillHash populates ReproducibilityHash (and a missing Timestamp) if unset.
func (r *ExperimentResult) FillHash() {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.ReproducibilityHash == "" {
		r.ReproducibilityHash = ReproducibilityHash(r.ProjectName, r.Parameters, r.Timestamp)
	}
}

// SweepExecution tracks one in-flight or completed sweep: its expanded
// experiments, the results accumulated so far, and lifecycle timestamps.
// The scheduler is the single writer; callers read through scheduler
// accessors, which return copies.
type SweepExecution struct {
	ID          string              `json:"execution_id"`
	Config      *SweepConfiguration `json:"sweep_config"`
	Experiments []*Experiment       `json:"experiments"`
	Results     []*ExperimentResult `json:"results"`
	Status      ExecutionStatus     `json:"status"`
	StartTime   *time.Time          `json:"start_time,omitempty"`
	EndTime     *time.Time          `json:"end_time,omitempty"`
	TotalCost   float64             `json:"total_cost"`
}

// Progress is the percentage of experiments with a terminal result
// (completed, failed, or early-stopped). Zero when there are no experiments.
func (e *SweepExecution) Progress() float64 {
	if len(e.Experiments) == 0 {
		return 0.0
	}
	done := 0
	for _, r := range e.Results {
		if r.Status.Terminal() {
			done++
		}
	}
	return float64(done) / float64(len(e.Experiments)) * 100.0
}

// SuccessRate is the percentage of non-pending results that completed
// successfully. Zero when there are no non-pending results.
func (e *SweepExecution) SuccessRate() float64 {
	settled, succeeded := 0, 0
	for _, r := range e.Results {
		if r.Status == StatusPending {
			continue
		}
		settled++
		if r.Status == StatusCompleted {
			succeeded++
		}
	}
	if settled == 0 {
		return 0.0
	}
	return float64(succeeded) / float64(settled) * 100.0
}

// snapshot returns a copy safe to hand to callers while the control loop
// keeps mutating the original. Experiments and results are immutable once
// created, so sharing the element pointers is fine; only the slices and the
// top-level fields are copied.
func (e *SweepExecution) snapshot() *SweepExecution {
	cp := *e
	cp.Experiments = make([]*Experiment, len(e.Experiments))
	copy(cp.Experiments, e.Experiments)
	cp.Results = make([]*ExperimentResult, len(e.Results))
	copy(cp.Results, e.Results)
	return &cp
}
