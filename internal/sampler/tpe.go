package sampler

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ashita-ai/tansaku/internal/model"
)

// TPE is a tree-structured Parzen estimator sampler. Completed trials
// are split at the gamma quantile of the objective into a "good" and a
// "bad" set; candidates drawn from a kernel density over the good set
// are ranked by the density ratio l(x)/g(x) and the best candidate
// wins. Below n_startup_trials completed trials it falls back to
// random draws.
//
// Keywords: "n_startup_trials" (default 10), "n_ei_candidates"
// (default 24), "gamma" (default 0.25).
type TPE struct {
	direction  model.Direction
	rng        *lockedRand
	nStartup   int
	nCandidate int
	gamma      float64
}

// NewTPE constructs a TPE sampler.
func NewTPE(keyword map[string]any, direction model.Direction, seed int64) (*TPE, error) {
	return &TPE{
		direction:  direction,
		rng:        newLockedRand(seed),
		nStartup:   keywordInt(keyword, "n_startup_trials", 10),
		nCandidate: keywordInt(keyword, "n_ei_candidates", 24),
		gamma:      keywordFloat(keyword, "gamma", 0.25),
	}, nil
}

// Suggest proposes a value conditioned on the completed history.
func (s *TPE) Suggest(spec model.ParameterSpec, history []model.Trial) (any, error) {
	if spec.Kind == model.KindCategorical {
		return s.suggestCategorical(spec, history)
	}

	xs, ys := observations(spec, history, s.direction)
	if len(xs) < s.nStartup {
		return draw(s.rng, spec)
	}

	good, bad := s.split(xs, ys)
	if len(good) == 0 || len(bad) == 0 {
		return draw(s.rng, spec)
	}

	logDomain := spec.Kind == model.KindLogUniform
	if logDomain {
		good = logAll(good)
		bad = logAll(bad)
	}

	lo, hi := spec.Low, spec.High
	if logDomain {
		lo, hi = math.Log(spec.Low), math.Log(spec.High)
	}
	goodKDE := newParzen(good, lo, hi)
	badKDE := newParzen(bad, lo, hi)

	bestX, bestScore := 0.0, math.Inf(-1)
	for i := 0; i < s.nCandidate; i++ {
		x := goodKDE.sample(s.rng)
		score := math.Log(goodKDE.pdf(x)+1e-12) - math.Log(badKDE.pdf(x)+1e-12)
		if score > bestScore {
			bestScore = score
			bestX = x
		}
	}
	if logDomain {
		bestX = math.Exp(bestX)
	}
	return clampNumeric(spec, bestX), nil
}

// split partitions observations at the gamma quantile of the objective
// (lower is better; maximize histories arrive pre-negated).
func (s *TPE) split(xs, ys []float64) (good, bad []float64) {
	sorted := make([]float64, len(ys))
	copy(sorted, ys)
	sort.Float64s(sorted)
	cut := stat.Quantile(s.gamma, stat.Empirical, sorted, nil)

	for i, y := range ys {
		if y <= cut {
			good = append(good, xs[i])
		} else {
			bad = append(bad, xs[i])
		}
	}
	return good, bad
}

func (s *TPE) suggestCategorical(spec model.ParameterSpec, history []model.Trial) (any, error) {
	type scored struct {
		choice any
		y      float64
	}
	var obs []scored
	for _, t := range history {
		if t.State != model.TrialComplete || t.FinalValue == nil {
			continue
		}
		v, ok := t.Params[spec.Name]
		if !ok {
			continue
		}
		y := *t.FinalValue
		if s.direction == model.DirectionMaximize {
			y = -y
		}
		obs = append(obs, scored{choice: v, y: y})
	}
	if len(obs) < s.nStartup {
		return draw(s.rng, spec)
	}

	sort.Slice(obs, func(i, j int) bool { return obs[i].y < obs[j].y })
	nGood := int(math.Ceil(s.gamma * float64(len(obs))))

	// Add-one smoothing keeps every choice reachable.
	weights := make([]float64, len(spec.Choices))
	total := 0.0
	for i, c := range spec.Choices {
		w := 1.0
		for _, o := range obs[:nGood] {
			if o.choice == c {
				w++
			}
		}
		weights[i] = w
		total += w
	}

	r := s.rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return spec.Choices[i], nil
		}
	}
	return spec.Choices[len(spec.Choices)-1], nil
}

func logAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Log(x)
	}
	return out
}

// parzen is a truncated kernel density estimate with Gaussian kernels
// centered on the observations.
type parzen struct {
	centers []float64
	sigma   float64
	lo, hi  float64
}

func newParzen(centers []float64, lo, hi float64) *parzen {
	// Scott-style bandwidth over the domain width; never zero.
	sigma := (hi - lo) / math.Max(1, math.Sqrt(float64(len(centers))))
	if sigma <= 0 {
		sigma = 1e-9
	}
	return &parzen{centers: centers, sigma: sigma, lo: lo, hi: hi}
}

func (p *parzen) pdf(x float64) float64 {
	sum := 0.0
	for _, c := range p.centers {
		sum += distuv.Normal{Mu: c, Sigma: p.sigma}.Prob(x)
	}
	return sum / float64(len(p.centers))
}

func (p *parzen) sample(rng *lockedRand) float64 {
	c := p.centers[rng.Intn(len(p.centers))]
	// Box-Muller from two uniform draws; resample until inside bounds,
	// with a bounded number of attempts before clamping.
	for i := 0; i < 16; i++ {
		u1, u2 := rng.Float64(), rng.Float64()
		if u1 == 0 {
			u1 = math.SmallestNonzeroFloat64
		}
		x := c + p.sigma*math.Sqrt(-2*math.Log(u1))*math.Cos(2*math.Pi*u2)
		if x >= p.lo && x <= p.hi {
			return x
		}
	}
	return math.Min(math.Max(c, p.lo), p.hi)
}
