package registry

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/supervisor"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/telemetry"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

var (
	// ErrInvalidAddress is returned for an empty or malformed node address
	ErrInvalidAddress = errors.New("invalid node address")
	// ErrSelfLink is returned when a node would link to itself
	ErrSelfLink = errors.New("node address is self")
	// ErrDuplicateLink is returned when an inbound link loses to an existing outbound link
	ErrDuplicateLink = errors.New("duplicate node link")
)

// NodeLink is one entry in the node registry, whichever side opened it
type NodeLink interface {
	Address() string
	Direction() linkpkg.Direction
	// Connected reports whether a live link currently backs the entry
	Connected() bool
	Send(msg []byte) error
	Close() error

	owns(l linkpkg.Link) bool
}

// InboundNodeLink is a link another node opened to us
type InboundNodeLink struct {
	address string
	link    linkpkg.Link
}

// NewInboundNodeLink wraps an accepted link
func NewInboundNodeLink(address string, l linkpkg.Link) *InboundNodeLink {
	return &InboundNodeLink{address: address, link: l}
}

func (n *InboundNodeLink) Address() string { return n.address }
func (n *InboundNodeLink) Direction() linkpkg.Direction { return linkpkg.Inbound }
func (n *InboundNodeLink) Connected() bool { return n.link.State() == linkpkg.Connected }
func (n *InboundNodeLink) Send(msg []byte) error { return n.link.Send(msg) }
func (n *InboundNodeLink) Close() error { return n.link.Close() }
func (n *InboundNodeLink) owns(l linkpkg.Link) bool { return n.link == l }

// Link returns the underlying link
func (n *InboundNodeLink) Link() linkpkg.Link { return n.link }

// OutboundNodeLink is a supervised connection we opened
type OutboundNodeLink struct {
	address string
	sup     *supervisor.Supervisor
}

// NewOutboundNodeLink wraps a supervisor
func NewOutboundNodeLink(address string, sup *supervisor.Supervisor) *OutboundNodeLink {
	return &OutboundNodeLink{address: address, sup: sup}
}

func (n *OutboundNodeLink) Address() string { return n.address }
func (n *OutboundNodeLink) Direction() linkpkg.Direction { return linkpkg.Outbound }
func (n *OutboundNodeLink) Connected() bool { return n.sup.State() == supervisor.Connected }
func (n *OutboundNodeLink) Send(msg []byte) error { return n.sup.Send(msg) }
func (n *OutboundNodeLink) owns(l linkpkg.Link) bool { return l != nil && n.sup.Current() == l }

// Close stops the supervisor, which closes its current link
func (n *OutboundNodeLink) Close() error {
	n.sup.Stop()
	return nil
}

// Supervisor returns the supervisor driving this link
func (n *OutboundNodeLink) Supervisor() *supervisor.Supervisor { return n.sup }

// Connector starts supervised outbound connections for the registry
type Connector interface {
	Connect(address string) (*supervisor.Supervisor, error)
}

// Nodes holds node links keyed by remote address, at most one per address.
// It is not safe for concurrent use; the owning node serializes access.
type Nodes struct {
	self      string
	connector Connector
	logger    *zap.Logger
	entries   map[string]NodeLink
}

// NewNodes creates an empty node registry for the node advertised at self
func NewNodes(self string, connector Connector, logger *zap.Logger) *Nodes {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Nodes{
		self:      self,
		connector: connector,
		logger:    logger,
		entries:   make(map[string]NodeLink),
	}
}

// SetSelf updates this node's advertised address, once it is known
func (r *Nodes) SetSelf(self string) { r.self = self }

// Self returns this node's advertised address
func (r *Nodes) Self() string { return r.self }

// ConnectTo starts an outbound link to address unless one exists in either
// direction. It reports whether a new link was started.
func (r *Nodes) ConnectTo(address string) (NodeLink, bool, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, false, err
	}
	if address == r.self {
		return nil, false, fmt.Errorf("%w: %s", ErrSelfLink, address)
	}
	if existing, ok := r.entries[address]; ok {
		r.logger.Debug("already linked", zap.String("addr", address), zap.Stringer("direction", existing.Direction()))
		return existing, false, nil
	}

	sup, err := r.connector.Connect(address)
	if err != nil {
		return nil, false, err
	}
	entry := NewOutboundNodeLink(address, sup)
	r.store(entry)
	return entry, true, nil
}

// RegisterInbound records a link another node opened. When it displaces an
// existing entry that entry is returned and must be closed by the caller.
func (r *Nodes) RegisterInbound(address string, l linkpkg.Link) (NodeLink, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if address == r.self {
		return nil, fmt.Errorf("%w: %s", ErrSelfLink, address)
	}

	existing, ok := r.entries[address]
	if ok && existing.Direction() == linkpkg.Outbound && address >= r.self {
		return nil, fmt.Errorf("%w: outbound link to %s already exists", ErrDuplicateLink, address)
	}

	if ok {
		r.delete(address)
		r.logger.Info("replacing node link",
			zap.String("addr", address), zap.Stringer("old_direction", existing.Direction()))
	}
	r.store(NewInboundNodeLink(address, l))
	return existing, nil
}

// Get returns the entry stored for address
func (r *Nodes) Get(address string) (NodeLink, bool) {
	n, ok := r.entries[address]
	return n, ok
}

// Unregister removes whatever is stored for address and returns it
func (r *Nodes) Unregister(address string) NodeLink {
	n, ok := r.entries[address]
	if !ok {
		return nil
	}
	r.delete(address)
	return n
}

// Remove deletes the entry for address only if it still holds l. A receive
// loop that outlived its entry must not evict the newer link.
func (r *Nodes) Remove(address string, l linkpkg.Link) bool {
	n, ok := r.entries[address]
	if !ok || !n.owns(l) {
		return false
	}
	r.delete(address)
	return true
}

// Len returns the number of entries
func (r *Nodes) Len() int {
	return len(r.entries)
}

// All returns every entry sorted by address
func (r *Nodes) All() []NodeLink {
	out := make([]NodeLink, 0, len(r.entries))
	for _, n := range r.entries {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out
}

// Clear empties the registry and returns what it held. The caller closes the entries.
func (r *Nodes) Clear() []NodeLink {
	all := r.All()
	for _, n := range all {
		r.delete(n.Address())
	}
	return all
}

func (r *Nodes) store(n NodeLink) {
	r.entries[n.Address()] = n
	telemetry.NodeLinks.WithLabelValues(n.Direction().String()).Inc()
}

func (r *Nodes) delete(address string) {
	n := r.entries[address]
	delete(r.entries, address)
	telemetry.NodeLinks.WithLabelValues(n.Direction().String()).Dec()
}
