// Package report turns sweep results into CSV files, per-objective summary
// statistics, and an HTML chart for quick inspection.
package report

import (
	"gonum.org/v1/gonum/stat"

	"github.com/quantlab-data/orchestra/internal/sweep"
)

// ObjectiveSummary aggregates one objective metric across the successful
// results of a sweep.
type ObjectiveSummary struct {
	Objective string  `json:"objective"`
	Count     int     `json:"count"`
	Mean      float64 `json:"mean"`
	Stddev    float64 `json:"stddev"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	BestID    string  `json:"best_experiment_id"`
}

// Summarize computes per-objective statistics over the completed results.
// Failed results carry no trustworthy metrics and are skipped; an objective
// no result reported yields a zero-count summary. Best is the maximizing
// experiment.
func Summarize(results []*sweep.ExperimentResult, objectives []string) []ObjectiveSummary {
	summaries := make([]ObjectiveSummary, 0, len(objectives))
	for _, obj := range objectives {
		s := ObjectiveSummary{Objective: obj}
		var values []float64
		for _, r := range results {
			if r.Status != sweep.StatusCompleted {
				continue
			}
			v, ok := r.Metrics[obj]
			if !ok {
				continue
			}
			values = append(values, v)
			if s.Count == 0 || v > s.Max {
				s.Max = v
				s.BestID = r.ExperimentID
			}
			if s.Count == 0 || v < s.Min {
				s.Min = v
			}
			s.Count++
		}
		if s.Count > 0 {
			s.Mean = stat.Mean(values, nil)
			if s.Count > 1 {
				s.Stddev = stat.StdDev(values, nil)
			}
		}
		summaries = append(summaries, s)
	}
	return summaries
}
