// Package relay applies the mesh broadcast policy.
//
// A message from a leaf is echoed to that leaf, forwarded to every other local
// leaf and forwarded to every node link. A message from a node link goes to the
// local leaves only and is never forwarded to another node link. That one-hop
// rule is what keeps cyclic topologies from flooding forever.
package relay

import (
	"github.com/rmacdonaldsmith/meshrelay-go/internal/registry"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/telemetry"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

// Source identifies where a message came from
type Source struct {
	Role linkpkg.Role
	// ID is the leaf id or the node address
	ID string
}

// LeafSource returns the Source for a message from the given leaf
func LeafSource(id string) Source { return Source{Role: linkpkg.Leaf, ID: id} }

// NodeSource returns the Source for a message from the given node link
func NodeSource(address string) Source { return Source{Role: linkpkg.Node, ID: address} }

// Result counts what one dispatch queued
type Result struct {
	Leaves  int
	Nodes   int
	Dropped int
}

// Relay fans messages out over a node's registries. It holds no lock of its
// own; callers serialize Dispatch with registry mutation.
type Relay struct {
	leaves *registry.Leaves
	nodes  *registry.Nodes
}

// New creates a Relay over the given registries
func New(leaves *registry.Leaves, nodes *registry.Nodes) *Relay {
	return &Relay{leaves: leaves, nodes: nodes}
}

// Dispatch delivers msg according to its source. Sends never block; a full or
// closed link costs a dropped copy.
func (r *Relay) Dispatch(src Source, msg []byte) Result {
	telemetry.MessagesReceived.WithLabelValues(src.Role.String()).Inc()

	var res Result
	var leafDropped int
	switch src.Role {
	case linkpkg.Leaf:
		res.Leaves, leafDropped = r.leaves.Broadcast(src.ID, msg)
		for _, n := range r.nodes.All() {
			if err := n.Send(msg); err != nil {
				res.Dropped++
				telemetry.MessagesDropped.WithLabelValues("node").Inc()
				continue
			}
			res.Nodes++
		}
	case linkpkg.Node:
		res.Leaves, leafDropped = r.leaves.Broadcast("", msg)
	}

	res.Dropped += leafDropped
	if leafDropped > 0 {
		telemetry.MessagesDropped.WithLabelValues("leaf").Add(float64(leafDropped))
	}
	telemetry.MessagesRelayed.WithLabelValues("leaf").Add(float64(res.Leaves))
	telemetry.MessagesRelayed.WithLabelValues("node").Add(float64(res.Nodes))
	return res
}
