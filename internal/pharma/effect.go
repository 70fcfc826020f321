// Package pharma models treatment effect dynamics: first-order onset
// toward the full effect while administered, first-order washout toward
// zero once stopped.
package pharma

import "github.com/jregier/n1sim/internal/study"

// Track follows one exposure's accumulated effect level across days.
// While administered the level approaches Effect with time constant
// Tau; off treatment it decays with time constant Gamma. The level
// carries across period boundaries, so stopping never snaps to zero.
type Track struct {
	exp   study.Exposure
	level float64
}

// NewTrack starts a track at zero effect.
func NewTrack(exp study.Exposure) *Track {
	return &Track{exp: exp}
}

// Step advances one day and returns the level at the end of it.
func (t *Track) Step(active bool) float64 {
	if active {
		t.level += (t.exp.Effect - t.level) / t.exp.Tau
	} else {
		t.level -= t.level / t.exp.Gamma
	}
	return t.level
}

// Level returns the current effect without advancing the track.
func (t *Track) Level() float64 { return t.level }

// Reset clears the accumulated effect.
func (t *Track) Reset() { t.level = 0 }

// EffectAfter returns the level reached after days consecutive days of
// administration starting from zero effect.
func EffectAfter(exp study.Exposure, days int) float64 {
	tr := NewTrack(exp)
	v := 0.0
	for i := 0; i < days; i++ {
		v = tr.Step(true)
	}
	return v
}

// WashoutFrom returns the level remaining days after stopping at the
// given level.
func WashoutFrom(exp study.Exposure, level float64, days int) float64 {
	tr := &Track{exp: exp, level: level}
	v := level
	for i := 0; i < days; i++ {
		v = tr.Step(false)
	}
	return v
}
