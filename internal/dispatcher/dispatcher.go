// Package dispatcher implements the message I/O layer: a bounded worker
// pool that executes inbound operations against the local node, and
// outbound delivery through a pluggable Transport. It is the only
// component that performs network I/O.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"chordring/internal/chordnode"
	"chordring/internal/logger"
	"chordring/internal/lookup"
	"chordring/internal/message"
	"chordring/internal/stabilizer"
)

// Transport delivers a message to a peer, encoding it as its wire format
// needs, and hands each message received from a peer to an InboundHandler.
// Concrete implementations live under internal/transport; Dispatcher
// itself is transport-agnostic.
type Transport interface {
	// Send delivers msg to target's address. Errors are transport-level
	// (dial failure, deadline exceeded, connection reset).
	Send(ctx context.Context, target chordnode.NodeInfo, msg message.Message) error

	// Serve starts accepting inbound messages and invokes handle for each
	// one, blocking until ctx is cancelled or an unrecoverable error occurs.
	Serve(ctx context.Context, handle InboundHandler) error
}

// InboundHandler processes one message received from from.
type InboundHandler func(ctx context.Context, from chordnode.NodeInfo, msg message.Message)

// Dispatcher owns two thread pools: a bounded worker pool that runs
// inbound operations, and a scheduler pool that runs stabilization ticks.
// It implements message.Sender by handing outbound sends to its
// Transport.
type Dispatcher struct {
	transport Transport
	engine    *lookup.Engine
	stab      *stabilizer.Stabilizer
	log       logger.Logger

	workers   chan struct{} // counting semaphore bounding inbound concurrency
	scheduler chan struct{} // counting semaphore bounding scheduled-task concurrency

	wg sync.WaitGroup
}

// New builds a Dispatcher. workerPoolSize bounds concurrent inbound
// operation handling; schedulerPoolSize bounds concurrent scheduled tasks
// (stabilization ticks across however many peers/rings share this
// process). Reference sizes are 10 and 5.
func New(transport Transport, engine *lookup.Engine, stab *stabilizer.Stabilizer, workerPoolSize, schedulerPoolSize int, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Dispatcher{
		transport: transport,
		engine:    engine,
		stab:      stab,
		log:       log,
		workers:   make(chan struct{}, workerPoolSize),
		scheduler: make(chan struct{}, schedulerPoolSize),
	}
}

// Send implements message.Sender by delegating to the transport.
func (d *Dispatcher) Send(ctx context.Context, target chordnode.NodeInfo, msg message.Message) error {
	return d.transport.Send(ctx, target, msg)
}

// Serve starts accepting inbound operations from the transport and runs
// each one on a worker pulled from the bounded pool, blocking until ctx is
// cancelled.
func (d *Dispatcher) Serve(ctx context.Context) error {
	return d.transport.Serve(ctx, d.handle)
}

// Wait blocks until every in-flight worker this Dispatcher spawned has
// returned. Intended for graceful shutdown, after Serve's context has been
// cancelled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// handle acquires a worker slot and runs op's behavior against the local
// node: the destination invokes the operation's handling logic on a
// worker.
func (d *Dispatcher) handle(ctx context.Context, from chordnode.NodeInfo, msg message.Message) {
	select {
	case d.workers <- struct{}{}:
	case <-ctx.Done():
		return
	}
	d.wg.Add(1)
	go func() {
		defer func() {
			<-d.workers
			d.wg.Done()
		}()
		d.run(ctx, msg)
	}()
}

// run is the single dispatch point switching on message kind: each
// message carries enough state to resume processing at the destination.
func (d *Dispatcher) run(ctx context.Context, msg message.Message) {
	switch m := msg.(type) {
	case message.Lookup:
		d.engine.HandleLookup(m)
	case message.LookupResult:
		d.engine.HandleLookupResult(m)
	case message.RequestPredecessor:
		d.stab.HandleRequestPredecessor(ctx, m)
	case message.PredecessorResponse:
		d.stab.HandlePredecessorResponse(m)
	case message.Notify:
		d.stab.HandleNotify(m)
	default:
		// A message whose concrete value is nil panics in Kind; fall back to
		// its Go type name so the worker survives.
		kind := func() (k string) {
			defer func() {
				if recover() != nil {
					k = fmt.Sprintf("%T", msg)
				}
			}()
			return msg.Kind()
		}()
		d.log.Warn("dispatcher: unrecognized message kind", logger.F("kind", kind))
	}
}

// RunScheduled runs task on a slot from the scheduler pool, blocking until
// one is free. Used by the process wiring to bound how many concurrent
// scheduled activities (stabilization ticks for however many local nodes
// share this process) can run at once.
func (d *Dispatcher) RunScheduled(ctx context.Context, task func(context.Context)) {
	select {
	case d.scheduler <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-d.scheduler }()
	task(ctx)
}
