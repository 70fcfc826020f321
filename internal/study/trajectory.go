package study

import (
	"maps"
	"time"
)

// DayRecord is everything simulated for one patient on one day. Values
// holds the recorded value of every variable and the outcome (after
// observation noise and clipping); Latent is the outcome before
// observation noise, Drift the baseline random walk underneath it.
// Indicators and Effects are keyed by exposure name.
type DayRecord struct {
	Day         int
	Block       int
	Date        time.Time
	Treatment   string
	Indicators  map[string]int
	Effects     map[string]float64
	Drift       float64
	Latent      float64
	Values      map[string]float64
	SinceSwitch int
}

// Clone deep-copies the record.
func (r DayRecord) Clone() DayRecord {
	c := r
	c.Indicators = maps.Clone(r.Indicators)
	c.Effects = maps.Clone(r.Effects)
	c.Values = maps.Clone(r.Values)
	return c
}

// Trajectory is one synthetic patient: an append-only day series plus
// per-entity boundary clip counts. DropDay is the first missing day
// index after dropout truncation, -1 when no dropout was applied.
type Trajectory struct {
	Patient int
	Days    []DayRecord
	Clips   map[string]int
	DropDay int
}

// NewTrajectory returns an empty trajectory for the given patient.
func NewTrajectory(patient int) *Trajectory {
	return &Trajectory{
		Patient: patient,
		Clips:   map[string]int{},
		DropDay: -1,
	}
}

// Clone deep-copies the trajectory. The copy shares nothing with the
// source.
func (t *Trajectory) Clone() *Trajectory {
	c := &Trajectory{
		Patient: t.Patient,
		Days:    make([]DayRecord, len(t.Days)),
		Clips:   maps.Clone(t.Clips),
		DropDay: t.DropDay,
	}
	for i := range t.Days {
		c.Days[i] = t.Days[i].Clone()
	}
	return c
}

// ClipTotal sums boundary clips across all entities.
func (t *Trajectory) ClipTotal() int {
	total := 0
	for _, n := range t.Clips {
		total += n
	}
	return total
}

// Series extracts one recorded column across all days. Exposure names
// yield the effect magnitude; Drift and Latent are addressed by the
// dataset package directly.
func (t *Trajectory) Series(name string) []float64 {
	out := make([]float64, len(t.Days))
	for i, d := range t.Days {
		if v, ok := d.Values[name]; ok {
			out[i] = v
		} else if e, ok := d.Effects[name]; ok {
			out[i] = e
		}
	}
	return out
}

// Cohort is the ordered set of patient trajectories from one run.
type Cohort []*Trajectory

// Clone deep-copies every trajectory.
func (c Cohort) Clone() Cohort {
	out := make(Cohort, len(c))
	for i, t := range c {
		out[i] = t.Clone()
	}
	return out
}

// Rows counts day records across the cohort.
func (c Cohort) Rows() int {
	n := 0
	for _, t := range c {
		n += len(t.Days)
	}
	return n
}

// ClipTotals merges per-entity clip counts across patients.
func (c Cohort) ClipTotals() map[string]int {
	totals := map[string]int{}
	for _, t := range c {
		for name, n := range t.Clips {
			totals[name] += n
		}
	}
	return totals
}
