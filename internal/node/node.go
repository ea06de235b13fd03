// Package node wires the core components (fingertable.Table,
// lookup.Engine, stabilizer.Stabilizer, and dispatcher.Dispatcher) into a
// single ring member with a lifecycle: create or join a ring, run, leave.
package node

import (
	"context"
	"fmt"
	"time"

	"chordring/internal/chordnode"
	"chordring/internal/dispatcher"
	"chordring/internal/fingertable"
	"chordring/internal/logger"
	"chordring/internal/lookup"
	"chordring/internal/message"
	"chordring/internal/metrics"
	"chordring/internal/stabilizer"
)

// Node is one member of the ring: its identity, routing state, and the
// components that keep that state converging.
type Node struct {
	self  chordnode.NodeInfo
	space chordnode.Space
	log   logger.Logger

	table      *fingertable.Table
	engine     *lookup.Engine
	stab       *stabilizer.Stabilizer
	dispatcher *dispatcher.Dispatcher

	metrics *metrics.Routing

	cancel context.CancelFunc
}

// Options configures a Node's timing and pool sizes; fields mirror
// config.RingConfig and config.DispatchConfig so a process can build one
// directly from the loaded configuration.
type Options struct {
	FailureTimeout        time.Duration
	StabilizationInterval time.Duration
	WorkerPoolSize        int
	SchedulerPoolSize     int
}

// New builds a Node for self, wiring the circular dependency between the
// Table (which needs a FailureNotifier) and the Engine (which needs the
// Table) via Table.SetNotifier.
func New(self chordnode.NodeInfo, space chordnode.Space, transport dispatcher.Transport, opts Options, log logger.Logger) *Node {
	if log == nil {
		log = logger.NopLogger{}
	}

	table := fingertable.New(self, space, log.Named("fingertable"))
	routingMetrics := metrics.New()

	// engine and stabilizer both need a message.Sender; the dispatcher
	// satisfies that interface, but the dispatcher itself needs the engine
	// and stabilizer to route inbound messages to. Build the dispatcher
	// last and thread it back in as the sender via a small indirection.
	sender := &lazySender{}

	engine := lookup.New(table, sender, opts.FailureTimeout, log.Named("lookup"))
	engine.SetMetrics(routingMetrics)
	table.SetNotifier(engine)

	stab := stabilizer.New(table, engine, sender, opts.FailureTimeout, log.Named("stabilizer"))
	stab.SetMetrics(routingMetrics)

	d := dispatcher.New(transport, engine, stab, opts.WorkerPoolSize, opts.SchedulerPoolSize, log.Named("dispatcher"))
	sender.set(d)

	return &Node{
		self:       self,
		space:      space,
		log:        log,
		table:      table,
		engine:     engine,
		stab:       stab,
		dispatcher: d,
		metrics:    routingMetrics,
	}
}

// lazySender defers to a dispatcher.Dispatcher that does not exist yet at
// the point engine/stabilizer are constructed, breaking the three-way
// circular dependency between Table, Engine/Stabilizer, and Dispatcher.
type lazySender struct {
	d *dispatcher.Dispatcher
}

func (s *lazySender) set(d *dispatcher.Dispatcher) { s.d = d }

func (s *lazySender) Send(ctx context.Context, target chordnode.NodeInfo, msg message.Message) error {
	return s.d.Send(ctx, target, msg)
}

// CreateRing declares self the sole member of a brand-new ring. No state
// change is required: fingertable.New already leaves the successor list
// empty and every finger pointed at self, which is exactly the genesis
// state.
func (n *Node) CreateRing() {
	n.log.Info("create_ring: initialized a new ring", logger.FNode("self", n.self))
}

// Join bootstraps self into an existing ring through seeds, tried in
// order until one answers. Bootstrap is three steps: look up the
// successor of self.id+1 through the seed to learn this node's own
// successor, fill the finger table from that routing state, then fetch
// the new successor's predecessor and adopt it if it turns out to be a
// closer fit than self. The last two steps are optimizations: stabilize
// would converge to the same state on its own, but performing them here
// means the node already has working routing state the moment Join
// returns instead of after several ticks.
func (n *Node) Join(ctx context.Context, seeds []chordnode.NodeInfo) error {
	if len(seeds) == 0 {
		return fmt.Errorf("node: join requires at least one seed")
	}

	successorKey := chordnode.ID(n.table.Space().AddToID(uint64(n.self.ID), 1))

	var lastErr error
	for _, seed := range seeds {
		if seed.ID == n.self.ID {
			continue
		}
		succ, err := n.engine.LookupVia(successorKey, seed).Wait(ctx)
		if err != nil {
			lastErr = fmt.Errorf("join: seed %s: %w", seed.Address, err)
			n.log.Warn("join: seed unreachable", logger.FNode("seed", seed), logger.F("error", err.Error()))
			continue
		}
		if succ.ID == n.self.ID {
			return fmt.Errorf("join: a node with this id already exists in the ring")
		}
		n.table.UpdateSuccessors(succ)
		n.table.Fill()

		pred, err := n.stab.RequestPredecessor(ctx, succ)
		if err != nil {
			n.log.Warn("join: could not fetch successor's predecessor", logger.FNode("successor", succ), logger.F("error", err.Error()))
		} else if pred != nil && pred.ID != succ.ID {
			n.table.UpdatePredecessor(*pred)
		}

		n.log.Info("join: completed", logger.FNode("self", n.self), logger.FNode("successor", succ))
		return nil
	}
	return fmt.Errorf("join: every seed failed: %w", lastErr)
}

// Leave notifies the predecessor and successor of this node's departure so
// they can repair the ring immediately instead of waiting for failure
// detection. It does not stop stabilization or inbound handling; Stop does
// that. It is a best-effort courtesy, not a guarantee: if both sends fail the ring still
// heals on its own once the next stabilization tick notices the gap.
func (n *Node) Leave(ctx context.Context) error {
	pred := n.table.Predecessor()
	succ := n.table.Successor0()
	haveSucc := succ.ID != n.self.ID
	havePred := pred != nil && pred.ID != n.self.ID

	var errs []error
	if haveSucc && havePred {
		if err := n.dispatcher.Send(ctx, succ, message.Notify{Origin: *pred}); err != nil {
			errs = append(errs, fmt.Errorf("leave: notifying successor of predecessor: %w", err))
		}
		if err := n.dispatcher.Send(ctx, *pred, message.Notify{Origin: succ}); err != nil {
			errs = append(errs, fmt.Errorf("leave: notifying predecessor of successor: %w", err))
		}
	}

	n.log.Info("leave: departure notifications sent", logger.FNode("self", n.self))
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Start begins serving inbound messages and running the stabilization
// schedule. It returns once both goroutines have been launched; callers
// should select on a done channel or context to know when to call Stop.
func (n *Node) Start(ctx context.Context, stabilizationInterval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	go func() {
		if err := n.dispatcher.Serve(ctx); err != nil && ctx.Err() == nil {
			n.log.Error("dispatcher: serve exited unexpectedly", logger.F("error", err.Error()))
		}
	}()
	go n.runStabilization(ctx, stabilizationInterval)
}

// runStabilization drives the stabilizer's fixed-delay tick schedule,
// routing each tick through the dispatcher's scheduler pool so the
// concurrent scheduled-task bound applies to stabilization the same way
// it would if this process hosted several local nodes sharing one
// Dispatcher.
func (n *Node) runStabilization(ctx context.Context, interval time.Duration) {
	for {
		n.dispatcher.RunScheduled(ctx, n.stab.Tick)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Stop cancels the running goroutines and waits for in-flight inbound work
// to drain.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.dispatcher.Wait()
}

// Lookup resolves key to its owning node.
func (n *Node) Lookup(ctx context.Context, key chordnode.ID) (chordnode.NodeInfo, error) {
	return n.engine.Lookup(key).Wait(ctx)
}

// Self returns this node's identity.
func (n *Node) Self() chordnode.NodeInfo { return n.self }

// Predecessor returns the current predecessor, or nil if absent.
func (n *Node) Predecessor() *chordnode.NodeInfo { return n.table.Predecessor() }

// Successors returns a copy of the current successor list.
func (n *Node) Successors() []chordnode.NodeInfo { return n.table.Successors() }

// Fingers returns a copy of the current finger array.
func (n *Node) Fingers() []chordnode.NodeInfo { return n.table.Fingers() }

// RoutingMetrics returns a point-in-time snapshot of lookup and
// stabilization counters.
func (n *Node) RoutingMetrics() metrics.Snapshot { return n.metrics.Snapshot() }

// Dispatcher exposes the underlying dispatcher so process wiring can pass
// it directly to a transport's inbound registration, if the transport
// needs a concrete InboundHandler ahead of Start.
func (n *Node) Dispatcher() *dispatcher.Dispatcher { return n.dispatcher }
