// Package causal turns a validated parameter set into day-by-day
// patient trajectories.
//
// An [Engine] caches one topological order over the contemporaneous
// dependency graph and resolves every node in that order once per day:
// exposures first consult their schedule and adherence edges, sampled
// variables draw and accumulate contributions, the outcome advances its
// baseline random walk and layers treatment effects, contemporaneous
// terms and lagged terms on top. Over-time edges only ever read days
// that are already finished, so they never constrain the order.
//
// Noise semantics follow the two-channel model: sigma_b perturbs the
// baseline walk and therefore persists, sigma_0 is observation noise
// added after the latent value is fixed and never feeds back into later
// days.
//
// # Thread Safety
//
// An Engine is immutable after New and safe for concurrent Run calls,
// one RNG per call. Steppers and trajectories belong to one goroutine.
package causal
