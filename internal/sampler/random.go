package sampler

import (
	"fmt"
	"math"

	"github.com/ashita-ai/tansaku/internal/model"
)

// Random is the default strategy: independent draws from each
// parameter's declared distribution, ignoring history.
type Random struct {
	rng *lockedRand
}

// NewRandom returns a seeded uniform-random sampler.
func NewRandom(seed int64) *Random {
	return &Random{rng: newLockedRand(seed)}
}

// Suggest draws one value for the spec.
func (r *Random) Suggest(spec model.ParameterSpec, _ []model.Trial) (any, error) {
	return draw(r.rng, spec)
}

// draw samples a single value for a spec from a shared rng. Split out
// so history-informed samplers can fall back to random draws during
// their startup phase.
func draw(rng *lockedRand, spec model.ParameterSpec) (any, error) {
	switch spec.Kind {
	case model.KindFloat:
		return spec.Low + rng.Float64()*(spec.High-spec.Low), nil
	case model.KindLogUniform:
		lo, hi := math.Log(spec.Low), math.Log(spec.High)
		return math.Exp(lo + rng.Float64()*(hi-lo)), nil
	case model.KindInt:
		lo, hi := int64(spec.Low), int64(spec.High)
		return lo + rng.Int63n(hi-lo+1), nil
	case model.KindDiscreteUniform:
		return snapToGrid(spec, spec.Low+rng.Float64()*(spec.High-spec.Low)), nil
	case model.KindCategorical:
		return spec.Choices[rng.Intn(len(spec.Choices))], nil
	default:
		return nil, fmt.Errorf("sampler: cannot draw kind %q", spec.Kind)
	}
}

// snapToGrid rounds a continuous draw onto the Low + k*Q grid, clamped
// to the declared bounds.
func snapToGrid(spec model.ParameterSpec, v float64) float64 {
	k := math.Round((v - spec.Low) / spec.Q)
	snapped := spec.Low + k*spec.Q
	if snapped > spec.High {
		snapped -= spec.Q
	}
	if snapped < spec.Low {
		snapped = spec.Low
	}
	return snapped
}

// clampNumeric folds a continuous suggestion back into a spec's domain,
// including int rounding and grid snapping. Used by model-based
// samplers whose candidates are generated in continuous space.
func clampNumeric(spec model.ParameterSpec, v float64) any {
	if v < spec.Low {
		v = spec.Low
	}
	if v > spec.High {
		v = spec.High
	}
	switch spec.Kind {
	case model.KindInt:
		return int64(math.Round(v))
	case model.KindDiscreteUniform:
		return snapToGrid(spec, v)
	default:
		return v
	}
}
