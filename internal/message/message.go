// Package message defines the inter-node wire messages, plus the Sender
// interface every component uses to transmit them. Keeping the message
// kinds in their own package lets lookup, stabilizer, and dispatcher
// depend on the same vocabulary without importing one another.
package message

import (
	"context"

	"chordring/internal/chordnode"
)

// Message is the common interface every wire message satisfies. Kind
// exists for logging and metrics; dispatch itself is done with a type
// switch.
type Message interface {
	Kind() string
}

// Sender delivers a message to target. Implementations (the dispatcher,
// backed by a Transport) surface delivery failure as a plain error;
// callers are expected to convert that into a failure notification on the
// target rather than propagate it as a hard error.
type Sender interface {
	Send(ctx context.Context, target chordnode.NodeInfo, msg Message) error
}

// Lookup carries a key through the network, one hop closer to its
// destination at a time. LastNode and TimeToLive are mutated at every hop;
// Origin is fixed for the message's lifetime.
type Lookup struct {
	Origin             chordnode.NodeInfo
	Key                chordnode.ID
	LastNode           chordnode.NodeInfo
	TimeToLive         int
	ReachedDestination bool
}

func (Lookup) Kind() string { return "Lookup" }

// LookupResult completes a Lookup at its Origin.
type LookupResult struct {
	Origin    chordnode.NodeInfo
	Responder chordnode.NodeInfo
	Key       chordnode.ID
}

func (LookupResult) Kind() string { return "LookupResult" }

// RequestPredecessor asks the recipient to report its predecessor.
type RequestPredecessor struct {
	Origin chordnode.NodeInfo
}

func (RequestPredecessor) Kind() string { return "RequestPredecessor" }

// PredecessorResponse answers a RequestPredecessor. Origin is the original
// requester (the delivery target); Responder identifies which peer this
// reply came from, so the requester's dedup map can complete the right
// pending request. Predecessor is nil when the responder has none.
type PredecessorResponse struct {
	Origin      chordnode.NodeInfo
	Responder   chordnode.NodeInfo
	Predecessor *chordnode.NodeInfo
}

func (PredecessorResponse) Kind() string { return "PredecessorResponse" }

// Notify is the "consider me your predecessor" hint sent during
// stabilize_successor.
type Notify struct {
	Origin chordnode.NodeInfo
}

func (Notify) Kind() string { return "Notify" }
