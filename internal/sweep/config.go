package sweep

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrInvalidConfiguration is returned when a SweepConfiguration fails
// construction-time validation.
var ErrInvalidConfiguration = errors.New("invalid sweep configuration")

// DefaultMaxConcurrent is the worker pool size used when a configuration
// does not specify one.
const DefaultMaxConcurrent = 4

// SweepConfiguration describes one sweep request: the target projects, the
// parameter dimensions to sweep, and the objective metrics to collect.
// The parameter order is significant: experiment IDs derive from the
// combination index, and combinations nest lexicographically by declaration
// order with the last parameter varying fastest.
type SweepConfiguration struct {
	Name          string           `json:"name"`
	ProjectPaths  []string         `json:"project_paths"`
	Parameters    []ParameterRange `json:"parameters"`
	Objectives    []string         `json:"objectives"`
	BudgetLimit   *float64         `json:"budget_limit,omitempty"`
	MaxDuration   time.Duration    `json:"max_duration,omitempty"`
	MaxConcurrent int              `json:"max_concurrent,omitempty"`
	RandomSeed    int64            `json:"random_seed,omitempty"`
}

// NewSweepConfiguration builds and validates a sweep configuration with
// default concurrency and seed.
func NewSweepConfiguration(name string, projectPaths []string, parameters []ParameterRange, objectives []string) (*SweepConfiguration, error) {
	c := &SweepConfiguration{
		Name:          name,
		ProjectPaths:  projectPaths,
		Parameters:    parameters,
		Objectives:    objectives,
		MaxConcurrent: DefaultMaxConcurrent,
		RandomSeed:    1337,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration invariants: at least one project path,
// one parameter, and one objective, and every parameter range well-formed.
func (c *SweepConfiguration) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidConfiguration)
	}
	if len(c.ProjectPaths) == 0 {
		return fmt.Errorf("%w: at least one project path must be specified", ErrInvalidConfiguration)
	}
	if len(c.Parameters) == 0 {
		return fmt.Errorf("%w: at least one parameter must be specified", ErrInvalidConfiguration)
	}
	if len(c.Objectives) == 0 {
		return fmt.Errorf("%w: at least one objective must be specified", ErrInvalidConfiguration)
	}
	seen := make(map[string]bool, len(c.Parameters))
	for i := range c.Parameters {
		p := &c.Parameters[i]
		if p.Name == "" {
			return fmt.Errorf("%w: parameter %d has no name", ErrInvalidConfiguration, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidConfiguration, p.Name)
		}
		seen[p.Name] = true
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Combinations expands the full Cartesian product of all parameter ranges.
// Each combination maps every parameter name to one value. The ordering is a
// public contract: parameters nest in declaration order with the last
// parameter cycling fastest, so combination index i is stable across runs.
func (c *SweepConfiguration) Combinations() ([]map[string]any, error) {
	values := make([][]any, len(c.Parameters))
	total := 1
	for i := range c.Parameters {
		v, err := c.Parameters[i].Values()
		if err != nil {
			return nil, err
		}
		values[i] = v
		total *= len(v)
	}

	combos := make([]map[string]any, total)
	for i := range combos {
		combos[i] = make(map[string]any, len(c.Parameters))
	}

	repeat := 1
	for dim := len(c.Parameters) - 1; dim >= 0; dim-- {
		dimValues := values[dim]
		cycle := len(dimValues)
		name := c.Parameters[dim].Name
		for i := 0; i < total; i++ {
			combos[i][name] = dimValues[(i/repeat)%cycle]
		}
		repeat *= cycle
	}

	return combos, nil
}

// configFile is the on-disk JSON form of a sweep configuration. Durations are
// strings ("10m") so the files stay hand-editable.
type configFile struct {
	Name          string           `json:"name"`
	ProjectPaths  []string         `json:"project_paths"`
	Parameters    []ParameterRange `json:"parameters"`
	Objectives    []string         `json:"objectives"`
	BudgetLimit   *float64         `json:"budget_limit,omitempty"`
	MaxDuration   string           `json:"max_duration,omitempty"`
	MaxConcurrent int              `json:"max_concurrent,omitempty"`
	RandomSeed    int64            `json:"random_seed,omitempty"`
}

// LoadConfigFile reads and validates a sweep configuration from a JSON file.
func LoadConfigFile(path string) (*SweepConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sweep config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a sweep configuration from JSON bytes.
func ParseConfig(data []byte) (*SweepConfiguration, error) {
	var f configFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	c := &SweepConfiguration{
		Name:          f.Name,
		ProjectPaths:  f.ProjectPaths,
		Parameters:    f.Parameters,
		Objectives:    f.Objectives,
		BudgetLimit:   f.BudgetLimit,
		MaxConcurrent: f.MaxConcurrent,
		RandomSeed:    f.RandomSeed,
	}
	if f.MaxDuration != "" {
		d, err := time.ParseDuration(f.MaxDuration)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid max_duration %q: %v", ErrInvalidConfiguration, f.MaxDuration, err)
		}
		c.MaxDuration = d
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.RandomSeed == 0 {
		c.RandomSeed = 1337
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
