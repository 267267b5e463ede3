package link

import (
	"io"
)

// Direction tells whether a link was accepted or initiated by this process
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Role identifies what sits at the remote end of a link
type Role int

const (
	Leaf Role = iota
	Node
)

func (r Role) String() string {
	switch r {
	case Leaf:
		return "leaf"
	case Node:
		return "node"
	default:
		return "unknown"
	}
}

// State represents the lifecycle state of a link
type State int32

const (
	Connecting State = iota
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Link is one bidirectional connection between this process and a leaf or another node.
type Link interface {
	io.Closer

	// ID returns the link identity: the remote address for node links,
	// the remote socket address for leaves.
	ID() string

	// Direction returns whether the link was accepted or initiated locally
	Direction() Direction

	// Role returns the role of the remote end
	Role() Role

	// State returns the current lifecycle state
	State() State

	// Send queues msg for delivery without blocking on the network.
	// Returns ErrClosed once the link is closing and ErrQueueFull under backpressure.
	Send(msg []byte) error

	// Recv blocks until the next message arrives.
	// io.EOF is the end-of-stream sentinel; any other error is an unexpected close.
	Recv() ([]byte, error)

	// Done is closed once Close has completed.
	Done() <-chan struct{}
}
