package causal

import (
	"context"
	"math/rand/v2"
	"sort"

	"github.com/jregier/n1sim/internal/pharma"
	"github.com/jregier/n1sim/internal/study"
)

// Engine evaluates one study's causal graph. It holds only immutable
// derived structure and may be shared across goroutines.
type Engine struct {
	params  *study.Parameters
	order   []string
	inbound map[string][]study.Dependency
	lags    map[string][]lagEdge
}

// lagEdge is one over-time source with its per-lag coefficients,
// index 0 = one day back.
type lagEdge struct {
	source  string
	effects []float64
}

// New builds the evaluation order and checks the graph. A cycle among
// contemporaneous edges returns ErrCyclicDependency; a variable that
// can never receive a value returns *UnreachableVariableError.
func New(params *study.Parameters) (*Engine, error) {
	order, err := params.TopoOrder()
	if err != nil {
		return nil, err
	}

	for _, name := range params.VariableNames() {
		v := params.Variables[name]
		if v.Constant || v.Distribution != "" {
			continue
		}
		if len(params.Inbound(name)) > 0 || len(params.OverTime[name]) > 0 {
			continue
		}
		return nil, &study.UnreachableVariableError{Name: name}
	}

	inbound := make(map[string][]study.Dependency)
	for _, d := range params.Dependencies {
		inbound[d.Target] = append(inbound[d.Target], d)
	}

	lags := make(map[string][]lagEdge, len(params.OverTime))
	for target, sources := range params.OverTime {
		edges := make([]lagEdge, 0, len(sources))
		for source, effects := range sources {
			edges = append(edges, lagEdge{source: source, effects: effects})
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i].source < edges[j].source })
		lags[target] = edges
	}

	return &Engine{params: params, order: order, inbound: inbound, lags: lags}, nil
}

// Order returns a copy of the evaluation order.
func (e *Engine) Order() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Run simulates the full schedule for one patient. The trajectory is
// complete or the error is non-nil; cancellation discards partial work.
func (e *Engine) Run(ctx context.Context, patient int, sched study.Schedule, rng *rand.Rand) (*study.Trajectory, error) {
	st := e.Stepper(patient, sched, rng)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if _, ok := st.Next(); !ok {
			break
		}
	}
	return st.Trajectory(), nil
}

// Stepper yields one finished day per Next call, for callers that
// interleave simulation with other work.
type Stepper struct {
	run   *run
	sched study.Schedule
	next  int
}

// Stepper starts a fresh single-patient run over sched.
func (e *Engine) Stepper(patient int, sched study.Schedule, rng *rand.Rand) *Stepper {
	return &Stepper{
		run:   newRun(e, patient, rng),
		sched: sched,
	}
}

// Next simulates one day. ok is false once the schedule is exhausted.
func (s *Stepper) Next() (rec study.DayRecord, ok bool) {
	if s.next >= len(s.sched) {
		return study.DayRecord{}, false
	}
	rec = s.run.step(s.sched[s.next])
	s.next++
	return rec, true
}

// Done reports whether the schedule is exhausted.
func (s *Stepper) Done() bool { return s.next >= len(s.sched) }

// Trajectory returns the days simulated so far.
func (s *Stepper) Trajectory() *study.Trajectory { return s.run.traj }

func newRun(e *Engine, patient int, rng *rand.Rand) *run {
	tracks := make(map[string]*pharma.Track, len(e.params.Exposures))
	for name, exp := range e.params.Exposures {
		tracks[name] = pharma.NewTrack(exp)
	}
	return &run{
		e:      e,
		rng:    rng,
		traj:   study.NewTrajectory(patient),
		tracks: tracks,
		drift:  e.params.Outcome.Baseline,
	}
}
