// Package store persists sweep executions and experiment results in SQLite,
// so sweep history survives process restarts and feeds offline reporting.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/quantlab-data/orchestra/internal/monitoring"
	"github.com/quantlab-data/orchestra/internal/sweep"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound reports an unknown execution ID.
var ErrNotFound = errors.New("execution not found")

// Store wraps the SQLite database holding sweep history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and brings its schema up to
// date. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	monitoring.Debugf("opened sweep store at %s", path)
	return &Store{db: db}, nil
}

// migrateUp applies all pending schema migrations from the embedded set.
func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Closing m would close the underlying DB connection, so we leave it to
	// the garbage collector.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// ExecutionRecord is the persisted summary of one sweep execution.
type ExecutionRecord struct {
	ID              string                    `json:"execution_id"`
	Name            string                    `json:"name"`
	Config          *sweep.SweepConfiguration `json:"sweep_config"`
	Status          sweep.ExecutionStatus     `json:"status"`
	ExperimentCount int                       `json:"experiment_count"`
	TotalCost       float64                   `json:"total_cost"`
	StartTime       *time.Time                `json:"start_time,omitempty"`
	EndTime         *time.Time                `json:"end_time,omitempty"`
}

// InsertExecution records a newly scheduled execution.
func (s *Store) InsertExecution(e *sweep.SweepExecution) error {
	config, err := json.Marshal(e.Config)
	if err != nil {
		return fmt.Errorf("marshal sweep config: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sweep_executions (id, name, config, status, experiment_count, total_cost, start_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Config.Name, string(config), string(e.Status), len(e.Experiments), e.TotalCost, e.StartTime)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", e.ID, err)
	}
	return nil
}

// AppendResult records one experiment result. Re-appending the same
// experiment for an execution is an error: results are immutable.
func (s *Store) AppendResult(executionID string, r *sweep.ExperimentResult) error {
	params, err := json.Marshal(r.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	var cost any
	if r.Cost != nil {
		cost = *r.Cost
	}
	_, err = s.db.Exec(`
		INSERT INTO experiment_results
			(execution_id, experiment_id, project_name, parameters, metrics,
			 execution_time_ns, cost, status, error_message, reproducibility_hash, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		executionID, r.ExperimentID, r.ProjectName, string(params), string(metrics),
		r.ExecutionTime.Nanoseconds(), cost, string(r.Status), r.ErrorMessage,
		r.ReproducibilityHash, r.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("append result %s: %w", r.ExperimentID, err)
	}
	return nil
}

// UpdateStatus stores the execution's current lifecycle status.
func (s *Store) UpdateStatus(executionID string, status sweep.ExecutionStatus) error {
	res, err := s.db.Exec(`UPDATE sweep_executions SET status = ? WHERE id = ?`,
		string(status), executionID)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", executionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeExecution stores the terminal state of an execution.
func (s *Store) FinalizeExecution(executionID string, status sweep.ExecutionStatus, endTime time.Time, totalCost float64) error {
	res, err := s.db.Exec(`
		UPDATE sweep_executions SET status = ?, end_time = ?, total_cost = ? WHERE id = ?`,
		string(status), endTime.UTC(), totalCost, executionID)
	if err != nil {
		return fmt.Errorf("finalize execution %s: %w", executionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Execution loads one persisted execution summary.
func (s *Store) Execution(executionID string) (*ExecutionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, name, config, status, experiment_count, total_cost, start_time, end_time
		FROM sweep_executions WHERE id = ?`, executionID)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListExecutions returns all persisted executions, newest first.
func (s *Store) ListExecutions() ([]*ExecutionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, name, config, status, experiment_count, total_cost, start_time, end_time
		FROM sweep_executions ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ResultsFor returns the persisted results of one execution in insertion
// order.
func (s *Store) ResultsFor(executionID string) ([]*sweep.ExperimentResult, error) {
	rows, err := s.db.Query(`
		SELECT experiment_id, project_name, parameters, metrics, execution_time_ns,
		       cost, status, error_message, reproducibility_hash, timestamp
		FROM experiment_results WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("load results for %s: %w", executionID, err)
	}
	defer rows.Close()

	var results []*sweep.ExperimentResult
	for rows.Next() {
		var (
			r          sweep.ExperimentResult
			params     string
			metrics    string
			durationNs int64
			cost       sql.NullFloat64
			status     string
		)
		if err := rows.Scan(&r.ExperimentID, &r.ProjectName, &params, &metrics, &durationNs,
			&cost, &status, &r.ErrorMessage, &r.ReproducibilityHash, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &r.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters for %s: %w", r.ExperimentID, err)
		}
		if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics for %s: %w", r.ExperimentID, err)
		}
		r.ExecutionTime = time.Duration(durationNs)
		r.Status = sweep.ExperimentStatus(status)
		if cost.Valid {
			c := cost.Float64
			r.Cost = &c
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	var (
		rec       ExecutionRecord
		config    string
		status    string
		startTime sql.NullTime
		endTime   sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Name, &config, &status, &rec.ExperimentCount,
		&rec.TotalCost, &startTime, &endTime); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(config), &rec.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config for %s: %w", rec.ID, err)
	}
	rec.Status = sweep.ExecutionStatus(status)
	if startTime.Valid {
		t := startTime.Time
		rec.StartTime = &t
	}
	if endTime.Valid {
		t := endTime.Time
		rec.EndTime = &t
	}
	return &rec, nil
}
