// Package sweep implements the experiment orchestration core: parameter
// ranges, sweep configurations, the experiment/result data model, and the
// scheduler that dispatches experiments to pluggable executor backends.
package sweep

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrInvalidRange is returned when a ParameterRange is missing fields
// required by its type.
var ErrInvalidRange = errors.New("invalid parameter range")

// ParameterType identifies how a ParameterRange generates its values.
type ParameterType string

const (
	ParameterLinear      ParameterType = "linear"
	ParameterLogarithmic ParameterType = "logarithmic"
	ParameterCategorical ParameterType = "categorical"
	ParameterBoolean     ParameterType = "boolean"
)

// ParameterRange defines one sweep dimension. Linear and logarithmic ranges
// generate Count evenly or log-spaced values between Min and Max inclusive;
// categorical ranges return their Choices verbatim; boolean ranges are the
// fixed pair {true, false}. Ranges are built once per sweep parameter and
// treated as immutable after construction.
type ParameterRange struct {
	Name    string        `json:"name"`
	Type    ParameterType `json:"type"`
	Min     float64       `json:"min,omitempty"`
	Max     float64       `json:"max,omitempty"`
	Count   int           `json:"count,omitempty"`
	Choices []any         `json:"values,omitempty"`
}

// NewLinearRange builds a linear range of count values from min to max inclusive.
func NewLinearRange(name string, min, max float64, count int) (ParameterRange, error) {
	r := ParameterRange{Name: name, Type: ParameterLinear, Min: min, Max: max, Count: count}
	if err := r.validate(); err != nil {
		return ParameterRange{}, err
	}
	return r, nil
}

// NewLogRange builds a logarithmic range of count values from min to max inclusive.
// Both endpoints must be positive.
func NewLogRange(name string, min, max float64, count int) (ParameterRange, error) {
	r := ParameterRange{Name: name, Type: ParameterLogarithmic, Min: min, Max: max, Count: count}
	if err := r.validate(); err != nil {
		return ParameterRange{}, err
	}
	return r, nil
}

// NewCategoricalRange builds a range over an explicit, non-empty value list.
func NewCategoricalRange(name string, values []any) (ParameterRange, error) {
	r := ParameterRange{Name: name, Type: ParameterCategorical, Choices: values}
	if err := r.validate(); err != nil {
		return ParameterRange{}, err
	}
	return r, nil
}

// NewBooleanRange builds the fixed {true, false} range.
func NewBooleanRange(name string) ParameterRange {
	return ParameterRange{Name: name, Type: ParameterBoolean, Choices: []any{true, false}}
}

func (r *ParameterRange) validate() error {
	switch r.Type {
	case ParameterLinear, ParameterLogarithmic:
		if r.Count < 1 {
			return fmt.Errorf("%w: %s range %q requires count >= 1, got %d", ErrInvalidRange, r.Type, r.Name, r.Count)
		}
		if r.Max < r.Min {
			return fmt.Errorf("%w: range %q has max %g < min %g", ErrInvalidRange, r.Name, r.Max, r.Min)
		}
		if r.Type == ParameterLogarithmic && (r.Min <= 0 || r.Max <= 0) {
			return fmt.Errorf("%w: logarithmic range %q requires positive endpoints", ErrInvalidRange, r.Name)
		}
	case ParameterCategorical:
		if len(r.Choices) == 0 {
			return fmt.Errorf("%w: categorical range %q requires a non-empty values list", ErrInvalidRange, r.Name)
		}
	case ParameterBoolean:
		if len(r.Choices) == 0 {
			r.Choices = []any{true, false}
		}
	default:
		return fmt.Errorf("%w: unknown parameter type %q", ErrInvalidRange, r.Type)
	}
	return nil
}

// Values generates the concrete value list for this range. Linear and
// logarithmic ranges produce Count values inclusive of both endpoints;
// categorical and boolean ranges return the stored list verbatim.
func (r ParameterRange) Values() ([]any, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	switch r.Type {
	case ParameterLinear, ParameterLogarithmic:
		if r.Count == 1 {
			return []any{r.Min}, nil
		}
		dst := make([]float64, r.Count)
		if r.Type == ParameterLinear {
			floats.Span(dst, r.Min, r.Max)
		} else {
			floats.LogSpan(dst, r.Min, r.Max)
		}
		out := make([]any, len(dst))
		for i, v := range dst {
			out[i] = v
		}
		return out, nil
	default:
		out := make([]any, len(r.Choices))
		copy(out, r.Choices)
		return out, nil
	}
}
