// Package inmemory implements an in-process dispatcher.Transport backed by
// a shared registry of reachable nodes, keyed by address. It exists for
// fast multi-node convergence tests that would otherwise need real
// listening sockets, and mirrors the shape of the gRPC transport closely
// enough that swapping one for the other requires no caller changes.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"chordring/internal/chordnode"
	"chordring/internal/dispatcher"
	"chordring/internal/message"
)

// Network is a shared registry of in-process peers. Tests construct one
// Network and one Transport per simulated node, all pointing at it.
type Network struct {
	mu      sync.RWMutex
	members map[string]*Transport
}

// NewNetwork returns an empty shared registry.
func NewNetwork() *Network {
	return &Network{members: make(map[string]*Transport)}
}

// Transport is one simulated node's view of the Network: it can reach any
// other registered Transport by address, and accepts inbound deliveries
// through Serve's handler once registered.
type Transport struct {
	net     *Network
	self    chordnode.NodeInfo
	handle  dispatcher.InboundHandler
	handleMu sync.RWMutex
}

// NewTransport registers self on net and returns its Transport handle.
func NewTransport(net *Network, self chordnode.NodeInfo) *Transport {
	t := &Transport{net: net, self: self}
	net.mu.Lock()
	net.members[self.Address] = t
	net.mu.Unlock()
	return t
}

// Send delivers msg to target synchronously in the caller's goroutine,
// invoking target's registered handler directly: no serialization, no
// network round trip.
func (t *Transport) Send(ctx context.Context, target chordnode.NodeInfo, msg message.Message) error {
	t.net.mu.RLock()
	peer, ok := t.net.members[target.Address]
	t.net.mu.RUnlock()
	if !ok {
		return fmt.Errorf("inmemory: no peer registered at %q", target.Address)
	}

	peer.handleMu.RLock()
	h := peer.handle
	peer.handleMu.RUnlock()
	if h == nil {
		return fmt.Errorf("inmemory: peer %q is not serving", target.Address)
	}

	h(ctx, t.self, msg)
	return nil
}

// Serve installs handle as this node's inbound handler and blocks until
// ctx is cancelled, matching dispatcher.Transport's contract even though
// no actual I/O loop is needed in-process.
func (t *Transport) Serve(ctx context.Context, handle dispatcher.InboundHandler) error {
	t.handleMu.Lock()
	t.handle = handle
	t.handleMu.Unlock()

	<-ctx.Done()

	t.handleMu.Lock()
	t.handle = nil
	t.handleMu.Unlock()
	return ctx.Err()
}
