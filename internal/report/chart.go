package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/quantlab-data/orchestra/internal/sweep"
)

// RenderChart writes an HTML scatter chart of each objective across the
// execution's completed experiments. Results are ordered by experiment ID so
// the x axis is stable across renders.
func RenderChart(w io.Writer, e *sweep.SweepExecution) error {
	results := make([]*sweep.ExperimentResult, 0, len(e.Results))
	for _, r := range e.Results {
		if r.Status == sweep.StatusCompleted {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ExperimentID < results[j].ExperimentID
	})

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ExperimentID
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Sweep " + e.Config.Name,
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Sweep " + e.Config.Name,
			Subtitle: fmt.Sprintf("execution=%s experiments=%d success=%.1f%%", e.ID, len(e.Experiments), e.SuccessRate()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "experiment"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "objective value"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	scatter.SetXAxis(ids)

	for _, objective := range e.Config.Objectives {
		data := make([]opts.ScatterData, 0, len(results))
		for _, r := range results {
			if v, ok := r.Metrics[objective]; ok {
				data = append(data, opts.ScatterData{Name: r.ExperimentID, Value: v})
			} else {
				data = append(data, opts.ScatterData{Name: r.ExperimentID, Value: nil})
			}
		}
		scatter.AddSeries(objective, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}

	return scatter.Render(w)
}
