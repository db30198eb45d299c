// Package space parses hyperparameter descriptor documents into a typed
// search space and resolves parameter values through a sampler.
//
// A descriptor document is an ordered JSON array of entries:
//
//	[{"type": "uniform", "keyword": {"name": "lr", "low": 0.001, "high": 0.1}},
//	 {"type": "int", "keyword": {"name": "num_layers", "low": 1, "high": 4}}]
//
// The entry type names a suggestion kind; keyword carries the kind's
// bounds or choices verbatim.
package space

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashita-ai/tansaku/internal/model"
)

// ErrMalformedSpec is returned when a descriptor entry has an unknown
// kind or invalid bounds. It aborts before any trial runs.
var ErrMalformedSpec = errors.New("space: malformed hyperparameter spec")

// Sampler suggests a value for one parameter given the completed trial
// history of the study. Implementations live in internal/sampler; the
// interface is declared here so the dependency points space <- sampler.
type Sampler interface {
	Suggest(spec model.ParameterSpec, history []model.Trial) (any, error)
}

// SearchSpace is an ordered, read-only sequence of parameter specs.
type SearchSpace struct {
	specs []model.ParameterSpec
}

// descriptor mirrors one entry of the descriptor document.
type descriptor struct {
	Type    string `json:"type"`
	Keyword struct {
		Name    string   `json:"name"`
		Low     *float64 `json:"low"`
		High    *float64 `json:"high"`
		Q       *float64 `json:"q"`
		Choices []any    `json:"choices"`
	} `json:"keyword"`
}

// kindOf maps descriptor type names onto parameter kinds. The mapping
// is closed: anything else is a malformed spec.
func kindOf(name string) (model.ParamKind, error) {
	switch name {
	case "uniform", "float":
		return model.KindFloat, nil
	case "loguniform":
		return model.KindLogUniform, nil
	case "int":
		return model.KindInt, nil
	case "categorical":
		return model.KindCategorical, nil
	case "discrete_uniform":
		return model.KindDiscreteUniform, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrMalformedSpec, name)
	}
}

// Parse decodes and validates a descriptor document.
func Parse(data []byte) (*SearchSpace, error) {
	var entries []descriptor
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSpec, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty descriptor list", ErrMalformedSpec)
	}

	seen := make(map[string]bool, len(entries))
	specs := make([]model.ParameterSpec, 0, len(entries))
	for i, e := range entries {
		kind, err := kindOf(e.Type)
		if err != nil {
			return nil, err
		}
		spec := model.ParameterSpec{
			Name:    e.Keyword.Name,
			Kind:    kind,
			Choices: e.Keyword.Choices,
		}
		if e.Keyword.Low != nil {
			spec.Low = *e.Keyword.Low
		}
		if e.Keyword.High != nil {
			spec.High = *e.Keyword.High
		}
		if e.Keyword.Q != nil {
			spec.Q = *e.Keyword.Q
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformedSpec, i, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrMalformedSpec, spec.Name)
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	return &SearchSpace{specs: specs}, nil
}

// Specs returns the ordered parameter specs.
func (s *SearchSpace) Specs() []model.ParameterSpec {
	out := make([]model.ParameterSpec, len(s.specs))
	copy(out, s.specs)
	return out
}

// Len returns the number of parameters.
func (s *SearchSpace) Len() int { return len(s.specs) }

// Spec returns the parameter spec with the given name.
func (s *SearchSpace) Spec(name string) (model.ParameterSpec, bool) {
	for _, sp := range s.specs {
		if sp.Name == name {
			return sp, true
		}
	}
	return model.ParameterSpec{}, false
}

// Resolve asks the sampler for every parameter in declaration order and
// returns the fully resolved mapping. No parameter is ever skipped; a
// suggestion outside the declared bounds is rejected here rather than
// silently recorded.
func (s *SearchSpace) Resolve(smp Sampler, history []model.Trial) (map[string]any, error) {
	params := make(map[string]any, len(s.specs))
	for _, spec := range s.specs {
		v, err := smp.Suggest(spec, history)
		if err != nil {
			return nil, fmt.Errorf("space: suggest %q: %w", spec.Name, err)
		}
		if !spec.Contains(v) {
			return nil, fmt.Errorf("space: suggestion %v for %q violates bounds", v, spec.Name)
		}
		params[spec.Name] = v
	}
	return params, nil
}

// NormalizeParams coerces a params mapping loaded from storage back to
// the kinds' native Go types (JSON numbers arrive as float64).
func (s *SearchSpace) NormalizeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if spec, ok := s.Spec(k); ok {
			out[k] = spec.NormalizeValue(v)
			continue
		}
		out[k] = v
	}
	return out
}
