package causal

import (
	"math"
	"math/rand/v2"

	"github.com/jregier/n1sim/internal/pharma"
	"github.com/jregier/n1sim/internal/sample"
	"github.com/jregier/n1sim/internal/study"
)

// run is the mutable state of one patient simulation.
type run struct {
	e      *Engine
	rng    *rand.Rand
	traj   *study.Trajectory
	tracks map[string]*pharma.Track
	drift  float64
}

func (r *run) step(slot study.DaySlot) study.DayRecord {
	p := r.e.params
	rec := study.DayRecord{
		Day:         slot.Day,
		Block:       slot.Block,
		Treatment:   slot.Treatment,
		SinceSwitch: slot.SinceSwitch,
		Indicators:  make(map[string]int, len(p.Exposures)),
		Effects:     make(map[string]float64, len(p.Exposures)),
		Values:      make(map[string]float64, len(p.Variables)+1),
	}

	for _, name := range r.e.order {
		kind, _ := p.Kind(name)
		switch kind {
		case study.KindExposure:
			r.stepExposure(name, slot, &rec)
		case study.KindVariable:
			r.stepVariable(name, &rec)
		case study.KindOutcome:
			r.stepOutcome(&rec)
		}
	}

	r.traj.Days = append(r.traj.Days, rec)
	return rec
}

// stepExposure resolves whether the treatment is actually taken today.
// The scheduled indicator is shifted by adherence edges (standardized
// source value times coefficient) and re-thresholded, so a patient can
// skip a scheduled dose or take one off schedule. The effect track
// advances on the adjusted indicator.
func (r *run) stepExposure(name string, slot study.DaySlot, rec *study.DayRecord) {
	p := r.e.params
	score := 0.0
	if slot.Treatment == name {
		score = 1
	}
	for _, d := range r.e.inbound[name] {
		src := p.Variables[d.Source]
		score += d.Coeff * (rec.Values[d.Source] - src.Mean) / src.Std
	}

	on := score >= 0.5
	if on {
		rec.Indicators[name] = 1
	} else {
		rec.Indicators[name] = 0
	}
	rec.Effects[name] = r.tracks[name].Step(on)
}

func (r *run) stepVariable(name string, rec *study.DayRecord) {
	p := r.e.params
	v := p.Variables[name]

	val, clipped := sample.Draw(v, r.rng)
	if clipped {
		r.traj.Clips[name]++
	}

	for _, d := range r.e.inbound[name] {
		if kind, _ := p.Kind(d.Source); kind == study.KindExposure {
			val += float64(rec.Indicators[d.Source]) * d.Coeff
		} else {
			val += rec.Values[d.Source] * d.Coeff
		}
	}
	val += r.lagSum(name, rec.Day)

	val, clipped = v.Bounds.Clip(val)
	if clipped {
		r.traj.Clips[name]++
	}
	rec.Values[name] = val
}

// stepOutcome advances the baseline walk, assembles the latent value
// and records the noisy observation. Exposure edges contribute the
// accumulated effect magnitude; their edge coefficient only declares
// the link.
func (r *run) stepOutcome(rec *study.DayRecord) {
	p := r.e.params
	o := p.Outcome

	drift, clipped := o.Bounds.Clip(r.drift + sample.Normal(o.DriftMean, o.SigmaB, r.rng))
	if clipped {
		r.traj.Clips[o.Name]++
	}
	r.drift = drift

	latent := drift
	for _, d := range r.e.inbound[o.Name] {
		if kind, _ := p.Kind(d.Source); kind == study.KindExposure {
			latent += rec.Effects[d.Source]
		} else {
			latent += rec.Values[d.Source] * d.Coeff
		}
	}
	latent += r.lagSum(o.Name, rec.Day)

	latent, clipped = o.Bounds.Clip(latent)
	if clipped {
		r.traj.Clips[o.Name]++
	}

	obs := latent + sample.Normal(0, o.Sigma0, r.rng)
	if o.Round {
		obs = math.Round(obs)
	}
	obs, clipped = o.Bounds.Clip(obs)
	if clipped {
		r.traj.Clips[o.Name]++
	}

	rec.Drift = drift
	rec.Latent = latent
	rec.Values[o.Name] = obs
}

// lagSum accumulates over-time contributions into target for today.
// Lags reaching past the start of the series contribute nothing.
func (r *run) lagSum(target string, today int) float64 {
	sum := 0.0
	for _, le := range r.e.lags[target] {
		for k, coeff := range le.effects {
			day := today - 1 - k
			if day < 0 {
				break
			}
			sum += coeff * r.history(le.source, day)
		}
	}
	return sum
}

// history reads a finished day. The outcome is read at its latent
// value, exposures at their indicator, variables at their recorded
// value.
func (r *run) history(source string, day int) float64 {
	rec := r.traj.Days[day]
	kind, _ := r.e.params.Kind(source)
	switch kind {
	case study.KindOutcome:
		return rec.Latent
	case study.KindExposure:
		return float64(rec.Indicators[source])
	default:
		return rec.Values[source]
	}
}
