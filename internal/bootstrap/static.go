package bootstrap

import (
	"context"

	"chordring/internal/chordnode"
)

// StaticBootstrap discovers a fixed, operator-supplied list of peer
// addresses. It has no registry to update, so Register and Deregister are
// no-ops; it exists for development and for deployments where the peer
// list is already managed externally (a load balancer target group, a
// static config file shared by every node).
type StaticBootstrap struct {
	peers []string
	space chordnode.Space
}

// NewStaticBootstrap builds a StaticBootstrap over peers, deriving each
// peer's id from its address with space the same way a node derives its
// own id when none is configured explicitly.
func NewStaticBootstrap(peers []string, space chordnode.Space) *StaticBootstrap {
	return &StaticBootstrap{peers: peers, space: space}
}

func (b *StaticBootstrap) Discover(_ context.Context) ([]chordnode.NodeInfo, error) {
	if len(b.peers) == 0 {
		return nil, nil
	}
	infos := make([]chordnode.NodeInfo, 0, len(b.peers))
	for _, addr := range b.peers {
		infos = append(infos, chordnode.NodeInfo{Address: addr, ID: b.space.NodeID(addr)})
	}
	return infos, nil
}

func (b *StaticBootstrap) Register(_ context.Context, _ chordnode.NodeInfo) error { return nil }

func (b *StaticBootstrap) Deregister(_ context.Context, _ chordnode.NodeInfo) error { return nil }
