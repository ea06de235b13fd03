// Package bootstrap resolves the set of seed peers a node should contact to
// join an existing ring, and advertises this node's own presence so later
// joiners can discover it. Two strategies are provided: a static peer list
// and an AWS Route53-backed one, matching the two bootstrap modes the
// process wiring exposes via config.BootstrapConfig.
package bootstrap

import (
	"context"

	"chordring/internal/chordnode"
)

// Bootstrap discovers seed peers and advertises this node's membership.
// Discover returning an empty slice with a nil error means "no existing
// ring was found, create one": the caller decides between CreateRing and
// Join based on that.
type Bootstrap interface {
	Discover(ctx context.Context) ([]chordnode.NodeInfo, error)
	Register(ctx context.Context, self chordnode.NodeInfo) error
	Deregister(ctx context.Context, self chordnode.NodeInfo) error
}
