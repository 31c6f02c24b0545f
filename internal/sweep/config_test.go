package sweep

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func mustLinear(t *testing.T, name string, min, max float64, count int) ParameterRange {
	t.Helper()
	r, err := NewLinearRange(name, min, max, count)
	if err != nil {
		t.Fatalf("NewLinearRange(%s): %v", name, err)
	}
	return r
}

func mustCategorical(t *testing.T, name string, values []any) ParameterRange {
	t.Helper()
	r, err := NewCategoricalRange(name, values)
	if err != nil {
		t.Fatalf("NewCategoricalRange(%s): %v", name, err)
	}
	return r
}

func TestConfigurationValidation(t *testing.T) {
	params := []ParameterRange{mustLinear(t, "gamma", 0, 1, 3)}

	testCases := []struct {
		name       string
		paths      []string
		parameters []ParameterRange
		objectives []string
	}{
		{"empty_project_paths", nil, params, []string{"efficiency"}},
		{"empty_parameters", []string{"projects/fmo"}, nil, []string{"efficiency"}},
		{"empty_objectives", []string{"projects/fmo"}, params, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSweepConfiguration("bad", tc.paths, tc.parameters, tc.objectives)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}

	if _, err := NewSweepConfiguration("ok", []string{"projects/fmo"}, params, []string{"efficiency"}); err != nil {
		t.Errorf("valid configuration rejected: %v", err)
	}
}

func TestConfigurationRejectsDuplicateParameters(t *testing.T) {
	params := []ParameterRange{
		mustLinear(t, "gamma", 0, 1, 3),
		mustLinear(t, "gamma", 0, 2, 2),
	}
	_, err := NewSweepConfiguration("dup", []string{"p"}, params, []string{"m"})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestCombinations(t *testing.T) {
	cfg, err := NewSweepConfiguration("combo",
		[]string{"projects/fmo"},
		[]ParameterRange{
			mustCategorical(t, "a", []any{1.0, 2.0, 3.0}),
			mustCategorical(t, "b", []any{"x", "y"}),
		},
		[]string{"efficiency"},
	)
	if err != nil {
		t.Fatalf("NewSweepConfiguration: %v", err)
	}

	combos, err := cfg.Combinations()
	if err != nil {
		t.Fatalf("Combinations: %v", err)
	}
	if len(combos) != 6 {
		t.Fatalf("expected 6 combinations, got %d", len(combos))
	}
	for i, combo := range combos {
		if _, ok := combo["a"]; !ok {
			t.Errorf("combination %d missing parameter a", i)
		}
		if _, ok := combo["b"]; !ok {
			t.Errorf("combination %d missing parameter b", i)
		}
	}

	// Declaration order nests lexicographically: the last parameter cycles
	// fastest. This ordering is a public contract.
	want := []map[string]any{
		{"a": 1.0, "b": "x"},
		{"a": 1.0, "b": "y"},
		{"a": 2.0, "b": "x"},
		{"a": 2.0, "b": "y"},
		{"a": 3.0, "b": "x"},
		{"a": 3.0, "b": "y"},
	}
	if diff := cmp.Diff(want, combos); diff != "" {
		t.Errorf("combination order mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfig(t *testing.T) {
	data := []byte(`{
		"name": "dephasing_scan",
		"project_paths": ["projects/fmo_project"],
		"parameters": [
			{"name": "dephasing_rate", "type": "logarithmic", "min": 0.1, "max": 100, "count": 4},
			{"name": "quick", "type": "boolean"}
		],
		"objectives": ["transport_efficiency"],
		"max_duration": "30m",
		"max_concurrent": 2
	}`)

	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Name != "dephasing_scan" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.MaxDuration != 30*time.Minute {
		t.Errorf("max_duration = %s, want 30m", cfg.MaxDuration)
	}
	if cfg.MaxConcurrent != 2 {
		t.Errorf("max_concurrent = %d, want 2", cfg.MaxConcurrent)
	}
	if cfg.RandomSeed != 1337 {
		t.Errorf("random_seed default = %d, want 1337", cfg.RandomSeed)
	}

	combos, err := cfg.Combinations()
	if err != nil {
		t.Fatalf("Combinations: %v", err)
	}
	if len(combos) != 8 {
		t.Errorf("expected 4*2 = 8 combinations, got %d", len(combos))
	}
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"not_json", `{`},
		{"no_objectives", `{"name":"x","project_paths":["p"],"parameters":[{"name":"a","type":"boolean"}]}`},
		{"bad_duration", `{"name":"x","project_paths":["p"],"parameters":[{"name":"a","type":"boolean"}],"objectives":["m"],"max_duration":"soon"}`},
		{"bad_range", `{"name":"x","project_paths":["p"],"parameters":[{"name":"a","type":"linear"}],"objectives":["m"]}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tc.data)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
