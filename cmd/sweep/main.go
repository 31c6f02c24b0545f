// sweep runs one parameter sweep from a JSON configuration file and writes
// raw and summary CSV reports, plus an optional HTML chart.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/quantlab-data/orchestra/internal/execlocal"
	"github.com/quantlab-data/orchestra/internal/monitoring"
	"github.com/quantlab-data/orchestra/internal/report"
	"github.com/quantlab-data/orchestra/internal/security"
	"github.com/quantlab-data/orchestra/internal/store"
	"github.com/quantlab-data/orchestra/internal/sweep"
)

func main() {
	configPath := flag.String("config", "", "Path to sweep configuration JSON (required)")
	rawPath := flag.String("raw", "", "Raw results CSV output path (default <name>_raw.csv)")
	summaryPath := flag.String("summary", "", "Summary CSV output path (default <name>_summary.csv)")
	chartPath := flag.String("chart", "", "HTML chart output path (optional)")
	dbPath := flag.String("db", "", "Sweep history database path (optional)")
	timeout := flag.Duration("timeout", 2*time.Hour, "Overall sweep timeout")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	monitoring.Verbose = *verbose

	if *configPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	config, err := sweep.LoadConfigFile(*configPath)
	if err != nil {
		log.Fatalf("load sweep config: %v", err)
	}
	if config.MaxDuration > 0 && config.MaxDuration < *timeout {
		*timeout = config.MaxDuration
	}

	base := security.SanitizeFilename(config.Name)
	if *rawPath == "" {
		*rawPath = base + "_raw.csv"
	}
	if *summaryPath == "" {
		*summaryPath = base + "_summary.csv"
	}

	var monitor sweep.ProgressMonitor = &sweep.LoggingMonitor{}
	var scheduler *sweep.Scheduler
	if *dbPath != "" {
		st, err := store.Open(*dbPath)
		if err != nil {
			log.Fatalf("open sweep store: %v", err)
		}
		defer st.Close()
		monitor = store.NewMonitor(st, func(id string) *sweep.SweepExecution {
			return scheduler.ExecutionStatus(id)
		})
	}

	scheduler = sweep.NewScheduler([]sweep.Executor{execlocal.New()}, monitor, config.MaxConcurrent)
	defer scheduler.Stop()

	execution, err := scheduler.ScheduleSweep(config)
	if err != nil {
		log.Fatalf("schedule sweep: %v", err)
	}
	log.Printf("scheduled sweep %q: %d experiments", config.Name, len(execution.Experiments))

	final, err := scheduler.WaitForCompletion(execution.ID, *timeout)
	if err != nil {
		log.Fatalf("sweep did not complete: %v", err)
	}
	log.Printf("sweep %q finished: status=%s success=%.1f%% cost=$%.2f",
		config.Name, final.Status, final.SuccessRate(), final.TotalCost)

	if err := writeReports(final, *summaryPath, *rawPath, *chartPath); err != nil {
		log.Fatalf("write reports: %v", err)
	}

	for _, s := range report.Summarize(final.Results, config.Objectives) {
		if s.Count == 0 {
			log.Printf("objective %s: no data", s.Objective)
			continue
		}
		log.Printf("objective %s: mean=%.4f stddev=%.4f best=%.4f (%s)",
			s.Objective, s.Mean, s.Stddev, s.Max, s.BestID)
	}
}

func writeReports(e *sweep.SweepExecution, summaryPath, rawPath, chartPath string) error {
	summary, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", summaryPath, err)
	}
	defer summary.Close()

	raw, err := os.Create(rawPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", rawPath, err)
	}
	defer raw.Close()

	if err := report.WriteExecution(summary, raw, e); err != nil {
		return err
	}
	log.Printf("wrote %s and %s", summaryPath, rawPath)

	if chartPath == "" {
		return nil
	}
	chart, err := os.Create(chartPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", chartPath, err)
	}
	defer chart.Close()
	if err := report.RenderChart(chart, e); err != nil {
		return err
	}
	log.Printf("wrote %s", chartPath)
	return nil
}
