package sampler

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ashita-ai/tansaku/internal/model"
)

// GP is a Gaussian-process sampler: a one-dimensional RBF-kernel
// surrogate per parameter, with expected improvement over random
// candidates as the acquisition. Cheap and dependency-light compared to
// a joint surrogate, and adequate for the low-dimensional spaces
// hyperparameter descriptors describe.
//
// Keywords: "n_startup_trials" (default 10), "n_candidates" (default
// 50), "sigma" (kernel width as a fraction of the domain, default 0.1).
type GP struct {
	direction  model.Direction
	rng        *lockedRand
	nStartup   int
	nCandidate int
	sigmaFrac  float64
}

// NewGP constructs a GP sampler.
func NewGP(keyword map[string]any, direction model.Direction, seed int64) (*GP, error) {
	return &GP{
		direction:  direction,
		rng:        newLockedRand(seed),
		nStartup:   keywordInt(keyword, "n_startup_trials", 10),
		nCandidate: keywordInt(keyword, "n_candidates", 50),
		sigmaFrac:  keywordFloat(keyword, "sigma", 0.1),
	}, nil
}

// Suggest proposes the candidate with the highest expected improvement
// under the surrogate. Categorical parameters fall back to random.
func (s *GP) Suggest(spec model.ParameterSpec, history []model.Trial) (any, error) {
	if spec.Kind == model.KindCategorical {
		return draw(s.rng, spec)
	}

	xs, ys := observations(spec, history, s.direction)
	if len(xs) < s.nStartup {
		return draw(s.rng, spec)
	}

	surrogate := newGaussianProcess(s.sigmaFrac * (spec.High - spec.Low))
	for i := range xs {
		surrogate.update(xs[i], ys[i])
	}

	best := math.Inf(1)
	for _, y := range ys {
		if y < best {
			best = y
		}
	}

	bestX, bestEI := 0.0, math.Inf(-1)
	for i := 0; i < s.nCandidate; i++ {
		cand, err := draw(s.rng, spec)
		if err != nil {
			return nil, err
		}
		x, _ := numeric(cand)
		mean, variance := surrogate.predict(x)
		ei := expectedImprovement(mean, variance, best)
		if ei > bestEI {
			bestEI = ei
			bestX = x
		}
	}
	return clampNumeric(spec, bestX), nil
}

// expectedImprovement scores a candidate under a minimize objective.
func expectedImprovement(mean, variance, best float64) float64 {
	sigma := math.Sqrt(variance)
	if sigma < 1e-12 {
		if mean < best {
			return best - mean
		}
		return 0
	}
	z := (best - mean) / sigma
	n := distuv.UnitNormal
	return (best-mean)*n.CDF(z) + sigma*n.Prob(z)
}

// gaussianProcess is a one-dimensional RBF-kernel GP used as the
// surrogate model. Prediction interpolates observed objective values
// weighted by kernel similarity; variance shrinks near observed points.
type gaussianProcess struct {
	mu    sync.RWMutex
	x     []float64
	y     []float64
	sigma float64
}

func newGaussianProcess(sigma float64) *gaussianProcess {
	if sigma <= 0 {
		sigma = 1.0
	}
	return &gaussianProcess{sigma: sigma}
}

func (gp *gaussianProcess) kernel(a, b float64) float64 {
	d := a - b
	return math.Exp(-(d * d) / (2 * gp.sigma * gp.sigma))
}

func (gp *gaussianProcess) update(x, y float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.x = append(gp.x, x)
	gp.y = append(gp.y, y)
}

// predict returns the surrogate mean and variance at x. With no
// observations the prior is mean 0, variance 1.
func (gp *gaussianProcess) predict(x float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if len(gp.x) == 0 {
		return 0, 1
	}

	var wsum, ysum, kmax float64
	for i, xi := range gp.x {
		k := gp.kernel(x, xi)
		wsum += k
		ysum += k * gp.y[i]
		if k > kmax {
			kmax = k
		}
	}
	if wsum < 1e-12 {
		return meanOf(gp.y), 1
	}
	return ysum / wsum, 1 - kmax
}

func meanOf(ys []float64) float64 {
	sum := 0.0
	for _, y := range ys {
		sum += y
	}
	return sum / float64(len(ys))
}
