package sweep

import "github.com/quantlab-data/orchestra/internal/monitoring"

// LoggingMonitor is a ProgressMonitor that reports through the monitoring
// package logger. It keeps no state and never blocks.
type LoggingMonitor struct{}

func (LoggingMonitor) StartMonitoring(executionID string) {
	monitoring.Logf("monitoring started for execution %s", executionID)
}

func (LoggingMonitor) UpdateProgress(executionID string, progress float64, results []*ExperimentResult) {
	monitoring.Debugf("execution %s: %.1f%% (%d results)", executionID, progress, len(results))
}

func (LoggingMonitor) StopMonitoring(executionID string) {
	monitoring.Logf("monitoring stopped for execution %s", executionID)
}
