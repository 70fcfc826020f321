// Package sample draws exogenous values for study variables. All
// randomness flows through the caller's source; nothing here touches
// the global generator.
package sample

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/jregier/n1sim/internal/study"
)

// Draw produces one value for v. Constant variables always yield Mean
// and consume no randomness; variables without a distribution
// contribute a zero base and are filled in by their dependencies. The
// draw is clipped to the variable's boundaries and the second return
// reports whether clipping moved it.
func Draw(v study.Variable, rng *rand.Rand) (float64, bool) {
	if v.Constant {
		return v.Mean, false
	}
	var raw float64
	switch v.Distribution {
	case study.DistNormal:
		raw = distuv.Normal{Mu: v.Mean, Sigma: v.Std, Src: rng}.Rand()
	case study.DistPoisson:
		raw = distuv.Poisson{Lambda: v.Rate, Src: rng}.Rand()
	case study.DistUniform:
		raw = distuv.Uniform{Min: *v.Bounds.Lower, Max: *v.Bounds.Upper, Src: rng}.Rand()
	case study.DistBernoulli:
		raw = distuv.Bernoulli{P: v.P, Src: rng}.Rand()
	default:
		return 0, false
	}
	return v.Bounds.Clip(raw)
}

// Normal draws one N(mu, sigma) value. Sigma 0 returns mu exactly.
func Normal(mu, sigma float64, rng *rand.Rand) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: rng}.Rand()
}
