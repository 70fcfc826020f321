// Package dropout derives realistic incomplete trajectories from
// complete ones. The source trajectory is never mutated, so toggling
// dropout can never change the complete cohort.
package dropout

import (
	"math/rand/v2"

	"github.com/jregier/n1sim/internal/study"
)

// Spec controls how a patient's participation ends. Hazard is the
// per-day probability of stopping after that day. MaxDays caps tenure
// regardless of hazard. Vacation removes one contiguous window of that
// many days from the retained range. Zero values disable each
// mechanism.
type Spec struct {
	Hazard   float64 `json:"hazard,omitempty" yaml:"hazard,omitempty"`
	MaxDays  int     `json:"max_days,omitempty" yaml:"max_days,omitempty"`
	Vacation int     `json:"vacation,omitempty" yaml:"vacation,omitempty"`
}

// Enabled reports whether the spec can remove any day at all.
func (s Spec) Enabled() bool {
	return s.Hazard > 0 || s.MaxDays > 0 || s.Vacation > 0
}

// Apply returns an independent truncated copy of traj. The stop day is
// the first day whose post-day hazard draw fires, capped by MaxDays;
// afterwards an optional vacation window is cut from the kept range.
// With an all-zero spec the copy is identical to the source. Identical
// rng state gives identical results.
func Apply(traj *study.Trajectory, spec Spec, rng *rand.Rand) *study.Trajectory {
	out := traj.Clone()

	keep := len(out.Days)
	if spec.MaxDays > 0 && spec.MaxDays < keep {
		keep = spec.MaxDays
	}
	if spec.Hazard > 0 {
		for day := 0; day < keep; day++ {
			if rng.Float64() < spec.Hazard {
				keep = day + 1
				break
			}
		}
	}
	if keep < len(out.Days) {
		out.Days = out.Days[:keep]
		out.DropDay = keep
	}

	if spec.Vacation > 0 && spec.Vacation < len(out.Days)-1 {
		start := 1 + rng.IntN(len(out.Days)-spec.Vacation-1)
		out.Days = append(out.Days[:start], out.Days[start+spec.Vacation:]...)
	}

	return out
}

// ApplyCohort truncates every trajectory with the same spec, one draw
// stream per patient supplied by nextRNG.
func ApplyCohort(cohort study.Cohort, spec Spec, nextRNG func(patient int) *rand.Rand) study.Cohort {
	out := make(study.Cohort, len(cohort))
	for i, traj := range cohort {
		out[i] = Apply(traj, spec, nextRNG(traj.Patient))
	}
	return out
}
