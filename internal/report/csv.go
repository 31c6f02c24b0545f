package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/quantlab-data/orchestra/internal/sweep"
)

// CSVWriter wraps csv.Writer with methods for sweep output: a raw file with
// one row per experiment result, and a summary file with one row per
// objective.
type CSVWriter struct {
	Summary *csv.Writer
	Raw     *csv.Writer
}

// NewCSVWriter creates a CSVWriter over the given summary and raw writers.
func NewCSVWriter(summary, raw io.Writer) *CSVWriter {
	return &CSVWriter{
		Summary: csv.NewWriter(summary),
		Raw:     csv.NewWriter(raw),
	}
}

// WriteHeaders writes the headers to both files. paramNames and objectives
// fix the column order for all subsequent rows.
func (c *CSVWriter) WriteHeaders(paramNames, objectives []string) error {
	raw := []string{"experiment_id", "project_name", "status"}
	for _, p := range paramNames {
		raw = append(raw, "param_"+p)
	}
	for _, o := range objectives {
		raw = append(raw, o)
	}
	raw = append(raw, "execution_time_seconds", "cost", "reproducibility_hash", "timestamp", "error_message")
	if err := c.Raw.Write(raw); err != nil {
		return err
	}

	return c.Summary.Write([]string{"objective", "count", "mean", "stddev", "min", "max", "best_experiment_id"})
}

// WriteRawRow writes one result row to the raw file.
func (c *CSVWriter) WriteRawRow(r *sweep.ExperimentResult, paramNames, objectives []string) error {
	row := []string{r.ExperimentID, r.ProjectName, string(r.Status)}
	for _, p := range paramNames {
		if v, ok := r.Parameters[p]; ok {
			row = append(row, fmt.Sprintf("%v", v))
		} else {
			row = append(row, "")
		}
	}
	for _, o := range objectives {
		if v, ok := r.Metrics[o]; ok {
			row = append(row, fmt.Sprintf("%.6f", v))
		} else {
			row = append(row, "")
		}
	}

	cost := ""
	if r.Cost != nil {
		cost = fmt.Sprintf("%.6f", *r.Cost)
	}
	row = append(row,
		fmt.Sprintf("%.3f", r.ExecutionTime.Seconds()),
		cost,
		r.ReproducibilityHash,
		r.Timestamp.Format(time.RFC3339Nano),
		r.ErrorMessage,
	)
	return c.Raw.Write(row)
}

// WriteSummary computes and writes the per-objective summary rows.
func (c *CSVWriter) WriteSummary(results []*sweep.ExperimentResult, objectives []string) error {
	for _, s := range Summarize(results, objectives) {
		row := []string{
			s.Objective,
			fmt.Sprintf("%d", s.Count),
			fmt.Sprintf("%.6f", s.Mean),
			fmt.Sprintf("%.6f", s.Stddev),
			fmt.Sprintf("%.6f", s.Min),
			fmt.Sprintf("%.6f", s.Max),
			s.BestID,
		}
		if err := c.Summary.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes both writers and reports the first error seen.
func (c *CSVWriter) Flush() error {
	c.Summary.Flush()
	c.Raw.Flush()
	if err := c.Summary.Error(); err != nil {
		return err
	}
	return c.Raw.Error()
}

// WriteExecution writes a complete raw and summary report for one execution,
// deriving the column order from its configuration.
func WriteExecution(summary, raw io.Writer, e *sweep.SweepExecution) error {
	paramNames := make([]string, 0, len(e.Config.Parameters))
	for _, p := range e.Config.Parameters {
		paramNames = append(paramNames, p.Name)
	}
	objectives := e.Config.Objectives

	w := NewCSVWriter(summary, raw)
	if err := w.WriteHeaders(paramNames, objectives); err != nil {
		return err
	}
	for _, r := range e.Results {
		if err := w.WriteRawRow(r, paramNames, objectives); err != nil {
			return err
		}
	}
	if err := w.WriteSummary(e.Results, objectives); err != nil {
		return err
	}
	return w.Flush()
}
