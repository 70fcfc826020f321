// Package study defines the parameter model and data model for N-of-1
// trial simulation.
//
// The package covers the declarative inputs and the generated outputs:
//
//   - [Parameters]: typed causal model (exposures, outcome, variables,
//     contemporaneous and over-time dependencies)
//   - [Design]: ordered treatment periods, expanded to a per-day [Schedule]
//   - [Trajectory]: one synthetic patient, a [DayRecord] per simulated day
//   - [Cohort]: ordered collection of trajectories
//
// Parameter documents are JSON. [Load] parses and validates one; every
// structural problem is reported as a *[SchemaError] before any
// simulation starts. Graph problems (cycles, unreachable variables) are
// detected by the propagation engine when it builds its evaluation
// order.
//
// # Thread Safety
//
// Parameters are treated as read-only after Load and may be shared
// across goroutines. Trajectories are owned by their producer.
package study
