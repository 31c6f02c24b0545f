package sweep

import (
	"container/heap"
	"testing"
	"time"
)

func terminalResult(id string, status ExperimentStatus) *ExperimentResult {
	return &ExperimentResult{
		ExperimentID: id,
		ProjectName:  "test_project",
		Status:       status,
		Timestamp:    time.Now(),
	}
}

func TestExecutionProgress(t *testing.T) {
	exec := &SweepExecution{
		Experiments: []*Experiment{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
	}
	if got := exec.Progress(); got != 0.0 {
		t.Errorf("fresh execution progress = %g, want 0", got)
	}

	exec.Results = append(exec.Results,
		terminalResult("a", StatusCompleted),
		terminalResult("b", StatusFailed),
	)
	if got := exec.Progress(); got != 50.0 {
		t.Errorf("progress = %g, want 50", got)
	}

	// Progress hits 100 once every experiment has reported back, even if
	// every single one failed.
	exec.Results = append(exec.Results,
		terminalResult("c", StatusFailed),
		terminalResult("d", StatusEarlyStopped),
	)
	if got := exec.Progress(); got != 100.0 {
		t.Errorf("progress = %g, want 100", got)
	}

	empty := &SweepExecution{}
	if got := empty.Progress(); got != 0.0 {
		t.Errorf("empty execution progress = %g, want 0", got)
	}
}

func TestExecutionSuccessRate(t *testing.T) {
	exec := &SweepExecution{Experiments: []*Experiment{{ID: "a"}, {ID: "b"}}}
	if got := exec.SuccessRate(); got != 0.0 {
		t.Errorf("success rate with no results = %g, want 0", got)
	}

	exec.Results = []*ExperimentResult{terminalResult("a", StatusPending)}
	if got := exec.SuccessRate(); got != 0.0 {
		t.Errorf("success rate with only pending results = %g, want 0", got)
	}

	exec.Results = []*ExperimentResult{
		terminalResult("a", StatusCompleted),
		terminalResult("b", StatusFailed),
	}
	if got := exec.SuccessRate(); got != 50.0 {
		t.Errorf("success rate = %g, want 50", got)
	}
}

func TestReproducibilityHash(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	params := map[string]any{"gamma": 1.5, "sites": 7}

	h1 := ReproducibilityHash("fmo_project", params, ts)
	h2 := ReproducibilityHash("fmo_project", map[string]any{"sites": 7, "gamma": 1.5}, ts)
	if h1 == "" || len(h1) != 16 {
		t.Fatalf("hash %q should be 16 hex chars", h1)
	}
	if h1 != h2 {
		t.Error("hash should be independent of parameter map iteration order")
	}

	if ReproducibilityHash("other_project", params, ts) == h1 {
		t.Error("hash should change with project name")
	}
	if ReproducibilityHash("fmo_project", map[string]any{"gamma": 1.6, "sites": 7}, ts) == h1 {
		t.Error("hash should change with parameters")
	}
	if ReproducibilityHash("fmo_project", params, ts.Add(time.Second)) == h1 {
		t.Error("hash should change with timestamp")
	}
}

func TestFillHash(t *testing.T) {
	r := &ExperimentResult{ProjectName: "p", Parameters: map[string]any{"a": 1}}
	r.FillHash()
	if r.ReproducibilityHash == "" || r.Timestamp.IsZero() {
		t.Errorf("FillHash left hash %q timestamp %v", r.ReproducibilityHash, r.Timestamp)
	}
	previous := r.ReproducibilityHash
	r.FillHash()
	if r.ReproducibilityHash != previous {
		t.Error("FillHash must not overwrite an existing hash")
	}
}

func TestExperimentOrdering(t *testing.T) {
	high := &Experiment{ID: "z", Priority: 2.0}
	low := &Experiment{ID: "a", Priority: 1.0}
	if !high.Less(low) {
		t.Error("priority 2.0 should sort before priority 1.0")
	}
	if low.Less(high) {
		t.Error("priority 1.0 should not sort before priority 2.0")
	}

	first := &Experiment{ID: "sweep_p_1", Priority: 1.0}
	second := &Experiment{ID: "sweep_p_2", Priority: 1.0}
	if !first.Less(second) {
		t.Error("equal priorities should tie-break by ascending ID")
	}
}

func TestExperimentQueueOrder(t *testing.T) {
	q := experimentQueue{}
	heap.Init(&q)
	heap.Push(&q, &Experiment{ID: "c", Priority: 1.0})
	heap.Push(&q, &Experiment{ID: "a", Priority: 1.0})
	heap.Push(&q, &Experiment{ID: "b", Priority: 3.0})
	heap.Push(&q, &Experiment{ID: "d", Priority: 2.0})

	var ids []string
	for q.Len() > 0 {
		ids = append(ids, heap.Pop(&q).(*Experiment).ID)
	}
	want := []string{"b", "d", "a", "c"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", ids, want)
		}
	}
}
