package study

import "fmt"

// Period is one contiguous block of the study design. An empty
// Treatment is a washout block: nothing administered, effects decay.
// Days == 0 defers to the design-wide days-per-period setting.
type Period struct {
	Treatment string `json:"treatment" yaml:"treatment"`
	Days      int    `json:"days,omitempty" yaml:"days,omitempty"`
}

// Design is the ordered treatment plan shared by every patient.
type Design []Period

// DaySlot assigns one simulated day to its period and treatment.
type DaySlot struct {
	Day         int
	Block       int
	Treatment   string
	SinceSwitch int
}

// Schedule is the design expanded to one slot per day.
type Schedule []DaySlot

// Expand rolls the design out day by day. Periods without an explicit
// day count take daysPerPeriod. Blocks are numbered from 1 in design
// order.
func (d Design) Expand(daysPerPeriod int) (Schedule, error) {
	sched := make(Schedule, 0, len(d)*daysPerPeriod)
	for i, p := range d {
		days := p.Days
		if days == 0 {
			days = daysPerPeriod
		}
		if days < 0 {
			return nil, &SchemaError{Field: fmt.Sprintf("study_design[%d].days", i), Reason: "must be >= 0"}
		}
		if days == 0 {
			return nil, &SchemaError{Field: fmt.Sprintf("study_design[%d].days", i), Reason: "no day count and no days_per_period default"}
		}
		for j := 0; j < days; j++ {
			sched = append(sched, DaySlot{
				Day:         len(sched),
				Block:       i + 1,
				Treatment:   p.Treatment,
				SinceSwitch: j,
			})
		}
	}
	if len(sched) == 0 {
		return nil, ErrEmptyDesign
	}
	return sched, nil
}

// Validate checks every scheduled treatment against the parameters.
func (d Design) Validate(p *Parameters) error {
	for _, period := range d {
		if period.Treatment == "" {
			continue
		}
		if _, ok := p.Exposures[period.Treatment]; !ok {
			return &UnknownTreatmentError{Treatment: period.Treatment}
		}
	}
	return nil
}
