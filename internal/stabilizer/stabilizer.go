// Package stabilizer implements the periodic stabilization task: it
// refreshes the successor and predecessor pointers and fills the finger
// table, running the three steps in order on a fixed-delay schedule that
// never overlaps itself.
package stabilizer

import (
	"context"
	"sync"
	"time"

	"chordring/internal/chordnode"
	"chordring/internal/fingertable"
	"chordring/internal/logger"
	"chordring/internal/lookup"
	"chordring/internal/message"
	"chordring/internal/metrics"
)

// Stabilizer runs the three stabilization sub-protocols against a Table,
// issuing lookups through an Engine and messages through a Sender. A
// failure in one sub-protocol never aborts the others.
type Stabilizer struct {
	table   *fingertable.Table
	engine  *lookup.Engine
	sender  message.Sender
	log     logger.Logger
	timeout time.Duration // predecessor-stabilization and lookup timeout

	tickMu sync.Mutex // ensures ticks never overlap with themselves

	predMu  sync.Mutex
	pending map[string]*predRequest // keyed by the queried peer's address

	metrics *metrics.Routing
}

// SetMetrics wires a routing-statistics sink. Optional; a nil sink (the
// default) disables instrumentation entirely.
func (s *Stabilizer) SetMetrics(m *metrics.Routing) {
	s.metrics = m
}

// New builds a Stabilizer. timeout bounds both the predecessor-liveness
// lookup and each RequestPredecessor round trip.
func New(table *fingertable.Table, engine *lookup.Engine, sender message.Sender, timeout time.Duration, log logger.Logger) *Stabilizer {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Stabilizer{
		table:   table,
		engine:  engine,
		sender:  sender,
		log:     log,
		timeout: timeout,
		pending: make(map[string]*predRequest),
	}
}

// Run schedules the stabilization task on a fixed-delay cadence: each tick
// is awaited in full before the interval timer for the next one starts,
// so ticks never overlap.
func (s *Stabilizer) Run(ctx context.Context, interval time.Duration) {
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Tick runs stabilize_successor, stabilize_predecessor, and
// fill_finger_table in order, serialized against any concurrent Tick call.
func (s *Stabilizer) Tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveStabilizationRun()
	}
	s.stabilizeSuccessor(ctx)
	s.stabilizePredecessor(ctx)
	s.fillFingerTable()
}

// stabilizeSuccessor asks the current successor for its predecessor and
// adopts it if it lies strictly between self and the current successor,
// then notifies whichever node ends up as successor of self's existence.
func (s *Stabilizer) stabilizeSuccessor(ctx context.Context) {
	self := s.table.Self()
	succ := s.table.Successor0()
	if succ.ID == self.ID {
		return
	}

	p, err := s.requestPredecessor(ctx, succ)
	if err != nil {
		s.log.Debug("stabilizer: request_predecessor failed", logger.FNode("successor", succ), logger.F("error", err.Error()))
	} else if p != nil {
		if s.table.Space().Between(uint64(self.ID), uint64(succ.ID), uint64(p.ID)) {
			s.table.UpdateSuccessors(*p)
			succ = *p
		}
	}

	if err := s.sender.Send(ctx, succ, message.Notify{Origin: self}); err != nil {
		s.table.InformFailure(succ)
	}
}

// stabilizePredecessor is a liveness probe bounded by the same timeout as
// a lookup, since the only way to "ping" a predecessor in this design is
// to confirm the ring still routes to it. A timed-out or failed lookup
// evicts the engine's handle for pred.ID so the next tick starts a fresh
// attempt instead of dedupe-joining a lookup that will never complete.
func (s *Stabilizer) stabilizePredecessor(ctx context.Context) {
	self := s.table.Self()
	pred := s.table.Predecessor()
	if pred == nil || pred.ID == self.ID {
		return
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	node, err := s.engine.Lookup(pred.ID).Wait(lctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObservePredecessorEvict()
		}
		s.engine.FailLookup(pred.ID)
		s.table.InformFailure(*pred)
		return
	}
	s.table.UpdatePredecessor(node)
}

// fillFingerTable refreshes every finger slot, bounded by the same
// per-lookup timeout as the rest of stabilization.
func (s *Stabilizer) fillFingerTable() {
	s.table.Fill()
}

// HandleNotify updates the predecessor slot with the sender of a Notify
// message.
func (s *Stabilizer) HandleNotify(n message.Notify) {
	s.table.UpdatePredecessor(n.Origin)
}

// RequestPredecessor asks target for its current predecessor and waits
// for the reply, deduplicating against any request already in flight for
// the same peer. It is exported so a joining node can fetch and adopt its
// new successor's predecessor as part of bootstrap.
func (s *Stabilizer) RequestPredecessor(ctx context.Context, target chordnode.NodeInfo) (*chordnode.NodeInfo, error) {
	return s.requestPredecessor(ctx, target)
}

// HandleRequestPredecessor replies to req.Origin with this node's current
// predecessor.
func (s *Stabilizer) HandleRequestPredecessor(ctx context.Context, req message.RequestPredecessor) {
	resp := message.PredecessorResponse{
		Origin:      req.Origin,
		Responder:   s.table.Self(),
		Predecessor: s.table.Predecessor(),
	}
	_ = s.sender.Send(ctx, req.Origin, resp)
}

// HandlePredecessorResponse completes the pending request for whichever
// peer replied.
func (s *Stabilizer) HandlePredecessorResponse(resp message.PredecessorResponse) {
	s.completePending(resp.Responder.Address, resp.Predecessor, nil)
}

// predRequest is a single-shot, dedup-protected handle: at most one
// request is outstanding per peer, and new callers share the same future.
type predRequest struct {
	done   chan struct{}
	once   sync.Once
	result *chordnode.NodeInfo
	err    error
}

func (s *Stabilizer) requestPredecessor(ctx context.Context, target chordnode.NodeInfo) (*chordnode.NodeInfo, error) {
	s.predMu.Lock()
	if req, ok := s.pending[target.Address]; ok {
		s.predMu.Unlock()
		return req.wait(ctx)
	}
	req := &predRequest{done: make(chan struct{})}
	s.pending[target.Address] = req
	s.predMu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	msg := message.RequestPredecessor{Origin: s.table.Self()}
	if err := s.sender.Send(rctx, target, msg); err != nil {
		s.completePending(target.Address, nil, err)
		return nil, err
	}

	result, err := req.wait(rctx)
	if err != nil {
		// the reply may still arrive later than our timeout; give up on it
		// so the next tick starts a fresh request instead of waiting on a
		// handle nothing will ever complete in time.
		s.completePending(target.Address, nil, err)
	}
	return result, err
}

func (s *Stabilizer) completePending(addr string, result *chordnode.NodeInfo, err error) {
	s.predMu.Lock()
	req, ok := s.pending[addr]
	if ok {
		delete(s.pending, addr)
	}
	s.predMu.Unlock()
	if !ok {
		return
	}
	req.once.Do(func() {
		req.result = result
		req.err = err
		close(req.done)
	})
}

func (r *predRequest) wait(ctx context.Context) (*chordnode.NodeInfo, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
