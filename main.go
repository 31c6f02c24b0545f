// orchestra is the experiment orchestration service: it schedules parameter
// sweeps over external research projects, runs them on a local executor, and
// serves results over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/quantlab-data/orchestra/internal/api"
	"github.com/quantlab-data/orchestra/internal/execlocal"
	"github.com/quantlab-data/orchestra/internal/monitoring"
	"github.com/quantlab-data/orchestra/internal/store"
	"github.com/quantlab-data/orchestra/internal/sweep"
	"github.com/quantlab-data/orchestra/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db", "orchestra.db", "Path to the sweep history database")
	projectsRoot  = flag.String("projects-root", "", "Confine sweep project paths to this directory (empty disables)")
	maxConcurrent = flag.Int("max-concurrent", sweep.DefaultMaxConcurrent, "Maximum experiments running at once")
	verbose       = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	monitoring.Verbose = *verbose
	monitoring.Logf("orchestra %s (%s)", version.Version, version.GitSHA)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open sweep store: %v", err)
	}
	defer st.Close()

	// The monitor needs the scheduler's snapshots and the scheduler needs
	// the monitor, so the lookup is bound late.
	var scheduler *sweep.Scheduler
	monitor := store.NewMonitor(st, func(id string) *sweep.SweepExecution {
		return scheduler.ExecutionStatus(id)
	})
	scheduler = sweep.NewScheduler([]sweep.Executor{execlocal.New()}, monitor, *maxConcurrent)
	defer scheduler.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(api.Config{
		Address:      *listen,
		Scheduler:    scheduler,
		Store:        st,
		ProjectsRoot: *projectsRoot,
	})
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
