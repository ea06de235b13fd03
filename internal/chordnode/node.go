// Package chordnode defines the identifier space, NodeID, and NodeInfo
// types that every other core package builds on: a single modular
// identifier space, no de Bruijn graph.
package chordnode

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"

	"chordring/internal/ringspace"
)

// Space is the ring's identifier space plus its routing parameters:
// successor-list length R and maximum lookup hops.
type Space struct {
	ringspace.Space
	SuccessorListSize int
	MaximumHops       int
}

// NewSpace validates and builds a Space. bits is m (M = 2^m); succListSize
// is R; maximumHops bounds Lookup forwarding (default 4*m).
func NewSpace(bits, succListSize, maximumHops int) (Space, error) {
	rs, err := ringspace.New(bits)
	if err != nil {
		return Space{}, err
	}
	if succListSize <= 0 {
		return Space{}, fmt.Errorf("chordnode: successor list size must be > 0, got %d", succListSize)
	}
	if maximumHops <= bits {
		return Space{}, fmt.Errorf("chordnode: maximum hops (%d) must exceed m (%d)", maximumHops, bits)
	}
	return Space{Space: rs, SuccessorListSize: succListSize, MaximumHops: maximumHops}, nil
}

// ID is a position on the ring, always kept in [0, M).
type ID uint64

// NodeID derives the stable identifier for a node from its advertised
// network address, by SHA-1 hashing the address and reducing the digest's
// first 8 bytes, read as a big-endian integer, modulo M.
func (s Space) NodeID(address string) ID {
	sum := sha1.Sum([]byte(address))
	raw := binary.BigEndian.Uint64(sum[:8])
	return ID(s.AddToID(raw, 0))
}

// FingerTarget returns (id + 2^i) mod M, the ideal position for finger
// table entry i.
func (s Space) FingerTarget(id ID, i int) ID {
	return ID(s.AddToID(uint64(id), int64(1)<<uint(i)))
}

// NodeInfo is the immutable identity of a ring member: network address and
// the id derived from it. Two NodeInfos are equal iff their ids are equal.
type NodeInfo struct {
	Address string
	ID      ID
}

// Equal reports whether two NodeInfos name the same ring member.
// A nil receiver or argument never equals anything, matching the "optional
// NodeInfo" semantics used for predecessor: a missing predecessor is a nil
// *NodeInfo, not a pointer to a zero value.
func (n *NodeInfo) Equal(o *NodeInfo) bool {
	if n == nil || o == nil {
		return false
	}
	return n.ID == o.ID
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("%s(%d)", n.Address, n.ID)
}
