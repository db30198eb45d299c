package model

import (
	"fmt"
	"math"
)

// ParamKind identifies a hyperparameter distribution.
type ParamKind string

const (
	// KindFloat samples uniformly from [Low, High].
	KindFloat ParamKind = "float"
	// KindLogUniform samples from [Low, High] uniformly in log space.
	KindLogUniform ParamKind = "loguniform"
	// KindInt samples an integer from [Low, High] inclusive.
	KindInt ParamKind = "int"
	// KindCategorical samples one of Choices.
	KindCategorical ParamKind = "categorical"
	// KindDiscreteUniform samples Low + k*Q for integer k, capped at High.
	KindDiscreteUniform ParamKind = "discrete_uniform"
)

// ParameterSpec describes one hyperparameter to sample. Immutable once
// a search space is loaded.
type ParameterSpec struct {
	Name    string    `json:"name"`
	Kind    ParamKind `json:"kind"`
	Low     float64   `json:"low,omitempty"`
	High    float64   `json:"high,omitempty"`
	Q       float64   `json:"q,omitempty"`
	Choices []any     `json:"choices,omitempty"`
}

// Validate checks that bounds are well-formed for the kind.
func (p ParameterSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("model: parameter has no name")
	}
	switch p.Kind {
	case KindFloat, KindInt:
		if p.Low > p.High {
			return fmt.Errorf("model: parameter %q: low %v > high %v", p.Name, p.Low, p.High)
		}
	case KindLogUniform:
		if p.Low <= 0 {
			return fmt.Errorf("model: parameter %q: loguniform low must be > 0, got %v", p.Name, p.Low)
		}
		if p.Low > p.High {
			return fmt.Errorf("model: parameter %q: low %v > high %v", p.Name, p.Low, p.High)
		}
	case KindDiscreteUniform:
		if p.Low > p.High {
			return fmt.Errorf("model: parameter %q: low %v > high %v", p.Name, p.Low, p.High)
		}
		if p.Q <= 0 {
			return fmt.Errorf("model: parameter %q: q must be > 0, got %v", p.Name, p.Q)
		}
	case KindCategorical:
		if len(p.Choices) == 0 {
			return fmt.Errorf("model: parameter %q: empty choice set", p.Name)
		}
		// Choices must be comparable primitives: samplers and Contains
		// compare them with ==, which panics on slices and maps.
		for i, c := range p.Choices {
			switch c.(type) {
			case string, bool, float64, float32, int, int64:
			default:
				return fmt.Errorf("model: parameter %q: choice %d (%v) is not a primitive value", p.Name, i, c)
			}
		}
	default:
		return fmt.Errorf("model: parameter %q: unknown kind %q", p.Name, p.Kind)
	}
	return nil
}

// Contains reports whether a sampled value satisfies the spec's bounds.
func (p ParameterSpec) Contains(v any) bool {
	switch p.Kind {
	case KindFloat, KindLogUniform:
		f, ok := asFloat(v)
		return ok && f >= p.Low && f <= p.High
	case KindInt:
		f, ok := asFloat(v)
		return ok && f == math.Trunc(f) && f >= p.Low && f <= p.High
	case KindDiscreteUniform:
		f, ok := asFloat(v)
		if !ok || f < p.Low || f > p.High {
			return false
		}
		// Allow for float error in the Low + k*Q grid.
		k := math.Round((f - p.Low) / p.Q)
		return math.Abs(p.Low+k*p.Q-f) < 1e-9
	case KindCategorical:
		for _, c := range p.Choices {
			if c == v {
				return true
			}
		}
		return false
	}
	return false
}

// NormalizeValue coerces a value loaded from storage back to the kind's
// native Go type. JSON round-trips turn int suggestions into float64;
// resumed studies should still see int64 for int parameters.
func (p ParameterSpec) NormalizeValue(v any) any {
	switch p.Kind {
	case KindInt:
		if f, ok := asFloat(v); ok {
			return int64(math.Round(f))
		}
	case KindFloat, KindLogUniform, KindDiscreteUniform:
		if f, ok := asFloat(v); ok {
			return f
		}
	}
	return v
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
