package sampler

import (
	"math"
	"sync"

	"github.com/ashita-ai/tansaku/internal/model"
)

// Grid walks the cross-product of discretized parameter domains in
// row-major order, wrapping around once exhausted. Continuous kinds are
// discretized into num_points evenly spaced values (keyword
// "num_points", default 10); int, discrete_uniform and categorical
// kinds enumerate their natural domains.
type Grid struct {
	mu        sync.Mutex
	numPoints int

	order   []string
	points  map[string][]any
	cursor  int
	started bool
	first   string
}

// NewGrid returns a grid sampler. The seed is unused (the walk is
// deterministic) but accepted so all constructors share a shape.
func NewGrid(keyword map[string]any, _ int64) (*Grid, error) {
	n := keywordInt(keyword, "num_points", 10)
	if n < 2 {
		n = 2
	}
	return &Grid{
		numPoints: n,
		points:    make(map[string][]any),
	}, nil
}

// Suggest returns the spec's value for the current grid position. The
// position advances each time the first-registered parameter is
// requested again, i.e. once per trial.
func (g *Grid) Suggest(spec model.ParameterSpec, _ []model.Trial) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pts, ok := g.points[spec.Name]
	if !ok {
		pts = g.discretize(spec)
		g.points[spec.Name] = pts
		g.order = append(g.order, spec.Name)
	}

	if g.first == "" {
		g.first = spec.Name
	}
	if spec.Name == g.first {
		if g.started {
			g.cursor++
		}
		g.started = true
	}

	return pts[g.digit(spec.Name)], nil
}

// digit computes the spec's index at the current cursor position,
// treating registered parameters as mixed-radix digits in registration
// order (first parameter most significant).
func (g *Grid) digit(name string) int {
	stride := 1
	pos := 0
	for i, n := range g.order {
		if n == name {
			pos = i
		}
	}
	for i := len(g.order) - 1; i > pos; i-- {
		stride *= len(g.points[g.order[i]])
	}
	size := len(g.points[name])
	return (g.cursor / stride) % size
}

func (g *Grid) discretize(spec model.ParameterSpec) []any {
	switch spec.Kind {
	case model.KindCategorical:
		return spec.Choices
	case model.KindInt:
		lo, hi := int64(spec.Low), int64(spec.High)
		out := make([]any, 0, hi-lo+1)
		for v := lo; v <= hi; v++ {
			out = append(out, v)
		}
		return out
	case model.KindDiscreteUniform:
		var out []any
		for v := spec.Low; v <= spec.High+1e-9; v += spec.Q {
			out = append(out, snapToGrid(spec, v))
		}
		return out
	case model.KindLogUniform:
		out := make([]any, g.numPoints)
		lo, hi := math.Log(spec.Low), math.Log(spec.High)
		for i := range out {
			// exp(log(high)) can land a few ulps above high; clamp so
			// every grid point satisfies the declared bounds.
			out[i] = clampNumeric(spec, math.Exp(lo+(hi-lo)*float64(i)/float64(g.numPoints-1)))
		}
		return out
	default: // KindFloat
		out := make([]any, g.numPoints)
		for i := range out {
			out[i] = clampNumeric(spec, spec.Low+(spec.High-spec.Low)*float64(i)/float64(g.numPoints-1))
		}
		return out
	}
}
