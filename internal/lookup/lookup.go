// Package lookup implements deduplicated, TTL-bounded key routing. It
// depends on a fingertable.Table for routing decisions and a
// message.Sender for outbound delivery; it never dials a network
// connection itself, that is the dispatcher's job.
package lookup

import (
	"context"
	"errors"
	"sync"
	"time"

	"chordring/internal/chordnode"
	"chordring/internal/fingertable"
	"chordring/internal/logger"
	"chordring/internal/message"
	"chordring/internal/metrics"
)

// ErrKeyNotFound is the terminal failure a Handle completes with when a
// lookup cannot be resolved.
var ErrKeyNotFound = errors.New("lookup: key not found")

// Handle is a single-shot completion slot: any number of callers may Wait
// on it, and the first completion (success or failure) is delivered to
// all of them.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	result chordnode.NodeInfo
	err    error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) complete(result chordnode.NodeInfo, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// Wait blocks until the lookup completes or ctx is cancelled, whichever
// comes first. Cancelling ctx does not cancel the lookup itself: other
// waiters and the in-flight routing keep going.
func (h *Handle) Wait(ctx context.Context) (chordnode.NodeInfo, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return chordnode.NodeInfo{}, ctx.Err()
	}
}

// Engine owns the in-flight lookup table: it dispatches new lookups on
// this node's behalf and services the routing of lookups forwarded to it
// by peers.
type Engine struct {
	table  *fingertable.Table
	sender message.Sender
	log    logger.Logger

	// backgroundTimeout bounds the lookups Engine issues on its own behalf
	// (finger refresh, successor replacement) when acting as a
	// fingertable.FailureNotifier.
	backgroundTimeout time.Duration

	mu      sync.Mutex
	ongoing map[chordnode.ID]*Handle

	metrics *metrics.Routing
}

// SetMetrics wires a routing-statistics sink. Optional; a nil sink (the
// default) disables instrumentation entirely.
func (e *Engine) SetMetrics(m *metrics.Routing) {
	e.metrics = m
}

// New builds an Engine bound to table, sending outbound messages through
// sender. table.SetNotifier(engine) must be called by the caller once both
// exist, to complete the otherwise-circular wiring between Table and
// Engine.
func New(table *fingertable.Table, sender message.Sender, backgroundTimeout time.Duration, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Engine{
		table:             table,
		sender:            sender,
		log:               log,
		backgroundTimeout: backgroundTimeout,
		ongoing:           make(map[chordnode.ID]*Handle),
	}
}

// Lookup returns the handle for key, deduplicating against any in-flight
// lookup for the same key. For a fresh key it dispatches a Lookup
// operation to the best routing hop.
func (e *Engine) Lookup(key chordnode.ID) *Handle {
	h, ok := e.register(key)
	if !ok {
		return h
	}

	reached := e.table.KeyBelongsToSuccessor(key)
	var target chordnode.NodeInfo
	if reached {
		target = e.table.Successor0()
	} else {
		target = e.table.NextBestNode(key)
	}

	self := e.table.Self()
	if target.ID == self.ID {
		if e.metrics != nil {
			e.metrics.ObserveLocalResolution()
		}
		e.onLookupFinished(key, self)
		return h
	}

	op := message.Lookup{
		Origin:             self,
		Key:                key,
		LastNode:           self,
		TimeToLive:         e.table.Space().MaximumHops,
		ReachedDestination: reached,
	}
	e.forward(target, op)

	return h
}

// LookupVia dispatches a lookup for key directly to target, bypassing the
// local routing decision. It exists for bootstrap joins: a joining node has
// no routing state of its own yet, so it must ask a specific seed peer for
// key's successor rather than let the table decide a hop.
func (e *Engine) LookupVia(key chordnode.ID, target chordnode.NodeInfo) *Handle {
	h, ok := e.register(key)
	if !ok {
		return h
	}

	self := e.table.Self()
	op := message.Lookup{
		Origin:             self,
		Key:                key,
		LastNode:           self,
		TimeToLive:         e.table.Space().MaximumHops,
		ReachedDestination: false,
	}
	e.forward(target, op)
	return h
}

// register returns the handle for key, creating and installing a fresh one
// if none is in flight. ok is false when an existing handle was returned
// and the caller should not dispatch anything new.
func (e *Engine) register(key chordnode.ID) (h *Handle, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, found := e.ongoing[key]; found {
		return existing, false
	}
	h = newHandle()
	e.ongoing[key] = h
	return h, true
}

// forward sends op to target, treating delivery failure as evidence the
// target is unreachable. The failure is recovered locally and never
// surfaced to the caller.
func (e *Engine) forward(target chordnode.NodeInfo, op message.Lookup) {
	if err := e.sender.Send(context.Background(), target, op); err != nil {
		e.log.Debug("lookup: forward failed", logger.FNode("target", target), logger.F("error", err.Error()))
		if e.metrics != nil {
			e.metrics.ObserveForwardFailure()
		}
		e.table.InformFailure(target)
		return
	}
	if e.metrics != nil {
		e.metrics.ObserveForwardedHop()
	}
}

// HandleLookup routes op one hop closer to its destination, or resolves it
// locally if this node is the destination. op was forwarded to this node
// by a peer, or injected locally by Lookup.
func (e *Engine) HandleLookup(op message.Lookup) {
	self := e.table.Self()

	op.TimeToLive--
	if op.TimeToLive < 0 {
		e.log.Debug("lookup: ttl exhausted, dropping", logger.F("key", op.Key))
		if e.metrics != nil {
			e.metrics.ObserveTTLExhaustion()
		}
		return
	}

	previousLastNode := op.LastNode
	op.LastNode = self

	if op.ReachedDestination {
		result := message.LookupResult{Origin: op.Origin, Responder: self, Key: op.Key}
		if err := e.sender.Send(context.Background(), op.Origin, result); err != nil {
			e.table.InformFailure(op.Origin)
		}
		e.table.InformExistence(op.Origin)
		return
	}

	op.ReachedDestination = e.table.KeyBelongsToSuccessor(op.Key)

	next := e.table.NextBestNode(op.Key)
	if next.ID == self.ID {
		next = e.table.Successor0()
	}
	if next.ID != self.ID {
		if err := e.sender.Send(context.Background(), next, op); err != nil {
			e.table.InformFailure(next)
		}
	} else {
		// every finger and the successor are self: the ring has nowhere
		// left to forward to. Resolve locally as a degenerate single-node
		// destination rather than looping the message back to ourselves.
		result := message.LookupResult{Origin: op.Origin, Responder: self, Key: op.Key}
		if err := e.sender.Send(context.Background(), op.Origin, result); err != nil {
			e.table.InformFailure(op.Origin)
		}
	}

	e.table.InformExistence(op.Origin)
	e.table.InformExistence(previousLastNode)
}

// HandleLookupResult completes the local handle for a LookupResult
// arriving from the network.
func (e *Engine) HandleLookupResult(result message.LookupResult) {
	e.onLookupFinished(result.Key, result.Responder)
}

func (e *Engine) onLookupFinished(key chordnode.ID, target chordnode.NodeInfo) {
	e.mu.Lock()
	h, ok := e.ongoing[key]
	if ok {
		delete(e.ongoing, key)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	e.table.InformExistence(target)
	h.complete(target, nil)
}

func (e *Engine) onLookupFailed(key chordnode.ID) {
	e.mu.Lock()
	h, ok := e.ongoing[key]
	if ok {
		delete(e.ongoing, key)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	h.complete(chordnode.NodeInfo{}, ErrKeyNotFound)
}

// FailLookup evicts key's in-flight handle, if any, and completes it with
// ErrKeyNotFound. Callers outside this package (the stabilizer's
// predecessor liveness probe) use this to give up on a lookup that never
// produced a result: without it the handle stays registered forever, and
// every subsequent Lookup(key) would just return that same dead handle
// instead of dispatching a fresh attempt.
func (e *Engine) FailLookup(key chordnode.ID) {
	e.onLookupFailed(key)
}

// RefreshFinger implements fingertable.FailureNotifier: it issues a
// bounded lookup for finger slot i's ideal target and installs the result,
// leaving the slot as it was on timeout or failure.
func (e *Engine) RefreshFinger(i int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.backgroundTimeout)
		defer cancel()
		target := e.table.Space().FingerTarget(e.table.Self().ID, i)
		node, err := e.Lookup(target).Wait(ctx)
		if err != nil {
			e.log.Debug("lookup: finger refresh timed out", logger.F("index", i))
			e.onLookupFailed(target)
			return
		}
		e.table.UpdateFingerTable(node)
	}()
}

// RefreshSuccessor implements fingertable.FailureNotifier: it issues a
// bounded lookup for self.id+1 to replace an emptied successor list.
func (e *Engine) RefreshSuccessor() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.backgroundTimeout)
		defer cancel()
		self := e.table.Self()
		target := e.table.Space().AddToID(uint64(self.ID), 1)
		key := chordnode.ID(target)
		node, err := e.Lookup(key).Wait(ctx)
		if err != nil {
			e.log.Debug("lookup: successor refresh timed out")
			e.onLookupFailed(key)
			return
		}
		e.table.UpdateSuccessors(node)
	}()
}
