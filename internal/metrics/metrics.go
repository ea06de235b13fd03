// Package metrics collects lock-free routing statistics a running node
// exposes for observability, the same atomic-counter-plus-snapshot pattern
// the reference node uses for its Koorde-specific routing stats, adapted
// to Chord's lookup-hop and stabilization outcomes.
package metrics

import "sync/atomic"

// Routing tracks lookup-hop and stabilization outcomes for one node.
type Routing struct {
	localResolutions  atomic.Uint64
	forwardedHops     atomic.Uint64
	forwardFailures   atomic.Uint64
	ttlExhaustions    atomic.Uint64
	stabilizationRuns atomic.Uint64
	predecessorEvicts atomic.Uint64
}

// New returns a zeroed Routing counter set.
func New() *Routing {
	return &Routing{}
}

func (r *Routing) ObserveLocalResolution() { r.localResolutions.Add(1) }
func (r *Routing) ObserveForwardedHop()    { r.forwardedHops.Add(1) }
func (r *Routing) ObserveForwardFailure()  { r.forwardFailures.Add(1) }
func (r *Routing) ObserveTTLExhaustion()   { r.ttlExhaustions.Add(1) }
func (r *Routing) ObserveStabilizationRun() { r.stabilizationRuns.Add(1) }
func (r *Routing) ObservePredecessorEvict() { r.predecessorEvicts.Add(1) }

// Snapshot is a point-in-time, immutable copy of a Routing counter set,
// safe to marshal or log without further synchronization.
type Snapshot struct {
	LocalResolutions  uint64 `json:"local_resolutions"`
	ForwardedHops     uint64 `json:"forwarded_hops"`
	ForwardFailures   uint64 `json:"forward_failures"`
	TTLExhaustions    uint64 `json:"ttl_exhaustions"`
	StabilizationRuns uint64 `json:"stabilization_runs"`
	PredecessorEvicts uint64 `json:"predecessor_evictions"`
}

// Snapshot returns a consistent-enough point-in-time copy of the counters.
func (r *Routing) Snapshot() Snapshot {
	return Snapshot{
		LocalResolutions:  r.localResolutions.Load(),
		ForwardedHops:     r.forwardedHops.Load(),
		ForwardFailures:   r.forwardFailures.Load(),
		TTLExhaustions:    r.ttlExhaustions.Load(),
		StabilizationRuns: r.stabilizationRuns.Load(),
		PredecessorEvicts: r.predecessorEvicts.Load(),
	}
}
