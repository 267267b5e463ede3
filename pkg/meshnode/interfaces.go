package meshnode

import (
	"context"
	"io"

	"github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

// MeshNode represents a single node in the relay mesh.
// It owns the leaf and node link registries and relays every message it receives.
type MeshNode interface {
	io.Closer

	// Start binds the leaf and node endpoints and connects to the configured seed peers.
	Start(ctx context.Context) error

	// Shutdown closes every link, stops every supervisor and both endpoints, and
	// waits for every goroutine the node started. Safe to call more than once.
	Shutdown(ctx context.Context) error

	// ConnectTo opens a supervised outbound link to the node at address.
	// Calling it again for an address that is already linked, in either direction, is a no-op.
	ConnectTo(address string) error

	// Disconnect closes the link to the node at address, whichever side opened it.
	Disconnect(address string) error

	// AcceptLeaf takes ownership of a leaf link and returns its id.
	AcceptLeaf(l link.Link) (string, error)

	// AcceptNode takes ownership of an inbound node link from the node advertised at address.
	AcceptNode(address string, l link.Link) error

	// DumpStatus returns a snapshot of the node's links. It never blocks on I/O.
	DumpStatus() Status

	// GetHealth returns the overall health status of this mesh node.
	GetHealth(ctx context.Context) (HealthStatus, error)

	// Address returns the advertised node address, the node's identity in the mesh.
	Address() string
}

// Status is a snapshot of one node's links
type Status struct {
	// Self is the node's advertised address
	Self string `json:"self"`

	// Leaf lists leaf ids in registration order
	Leaf []string `json:"leaf"`

	// Node maps peer address to link direction ("inbound" or "outbound")
	Node map[string]string `json:"node"`
}

// HealthStatus represents the overall health of a mesh node
type HealthStatus struct {
	// Healthy indicates the node is started and not shut down
	Healthy bool `json:"healthy"`

	// LeafLinks is the number of registered leaves
	LeafLinks int `json:"leafLinks"`

	// NodeLinks is the number of node registry entries, connected or not
	NodeLinks int `json:"nodeLinks"`

	// ConnectedNodes is the number of node entries with a live link
	ConnectedNodes int `json:"connectedNodes"`

	// Message provides additional health information
	Message string `json:"message,omitempty"`
}
