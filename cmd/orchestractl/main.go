// orchestractl drives a running orchestra service over its HTTP API:
// scheduling sweeps, inspecting executions, and controlling their lifecycle.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/quantlab-data/orchestra/internal/httputil"
	"github.com/quantlab-data/orchestra/internal/sweep"
)

const usage = `usage: orchestractl [-server URL] <command> [args]

commands:
  schedule <config.json>   submit a sweep configuration
  list                     list executions known to the service
  status <id>              show one execution
  pause <id>               pause a running execution
  resume <id>              resume a paused execution
  cancel <id>              cancel an execution
  summary <id>             per-objective statistics
  stats                    scheduler statistics
  history                  persisted executions from the store
`

func main() {
	server := flag.String("server", "http://localhost:8080", "Base URL of the orchestra service")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	ctl := &controller{
		base: *server,
		http: httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second}),
		out:  os.Stdout,
	}
	if err := ctl.run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "orchestractl: %v\n", err)
		os.Exit(1)
	}
}

type controller struct {
	base string
	http httputil.HTTPClient
	out  io.Writer
}

func (c *controller) run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given\n%s", usage)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "schedule":
		if len(rest) != 1 {
			return fmt.Errorf("schedule requires a config file")
		}
		return c.schedule(rest[0])
	case "list":
		return c.list()
	case "status":
		if len(rest) != 1 {
			return fmt.Errorf("status requires an execution id")
		}
		return c.status(rest[0])
	case "pause", "resume", "cancel":
		if len(rest) != 1 {
			return fmt.Errorf("%s requires an execution id", cmd)
		}
		return c.transition(rest[0], cmd)
	case "summary":
		if len(rest) != 1 {
			return fmt.Errorf("summary requires an execution id")
		}
		return c.summary(rest[0])
	case "stats":
		return c.stats()
	case "history":
		return c.history()
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func (c *controller) schedule(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	resp, err := c.http.Post(c.base+"/api/sweeps", "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	var execution sweep.SweepExecution
	if err := httputil.ReadJSON(resp, &execution); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "scheduled %s: %d experiments\n", execution.ID, len(execution.Experiments))
	return nil
}

func (c *controller) list() error {
	resp, err := c.http.Get(c.base + "/api/sweeps")
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	var executions []*sweep.SweepExecution
	if err := httputil.ReadJSON(resp, &executions); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tEXPERIMENTS\tRESULTS")
	for _, e := range executions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			e.ID, e.Config.Name, e.Status, len(e.Experiments), len(e.Results))
	}
	return tw.Flush()
}

func (c *controller) status(id string) error {
	resp, err := c.http.Get(c.base + "/api/sweeps/" + id)
	if err != nil {
		return fmt.Errorf("fetch execution: %w", err)
	}
	var execution sweep.SweepExecution
	if err := httputil.ReadJSON(resp, &execution); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "execution %s (%s)\n", execution.ID, execution.Config.Name)
	fmt.Fprintf(c.out, "  status: %s\n", execution.Status)
	fmt.Fprintf(c.out, "  experiments: %d  results: %d  success: %.1f%%\n",
		len(execution.Experiments), len(execution.Results), execution.SuccessRate())
	fmt.Fprintf(c.out, "  total cost: $%.2f\n", execution.TotalCost)
	return nil
}

func (c *controller) transition(id, action string) error {
	resp, err := c.http.Post(c.base+"/api/sweeps/"+id+"/"+action, "application/json", nil)
	if err != nil {
		return fmt.Errorf("%s execution: %w", action, err)
	}
	var execution sweep.SweepExecution
	if err := httputil.ReadJSON(resp, &execution); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %s: status=%s\n", action, execution.ID, execution.Status)
	return nil
}

func (c *controller) summary(id string) error {
	resp, err := c.http.Get(c.base + "/api/sweeps/" + id + "/summary")
	if err != nil {
		return fmt.Errorf("fetch summary: %w", err)
	}
	var summaries []struct {
		Objective string  `json:"objective"`
		Count     int     `json:"count"`
		Mean      float64 `json:"mean"`
		Stddev    float64 `json:"stddev"`
		Min       float64 `json:"min"`
		Max       float64 `json:"max"`
		BestID    string  `json:"best_experiment_id"`
	}
	if err := httputil.ReadJSON(resp, &summaries); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECTIVE\tCOUNT\tMEAN\tSTDDEV\tMIN\tMAX\tBEST")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%s\n",
			s.Objective, s.Count, s.Mean, s.Stddev, s.Min, s.Max, s.BestID)
	}
	return tw.Flush()
}

func (c *controller) stats() error {
	return c.printJSON(c.base + "/api/stats")
}

func (c *controller) history() error {
	return c.printJSON(c.base + "/api/history")
}

func (c *controller) printJSON(url string) error {
	resp, err := c.http.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	var v any
	if err := httputil.ReadJSON(resp, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
