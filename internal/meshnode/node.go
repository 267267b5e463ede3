package meshnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/discovery"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/httpapi"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/peerlink"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/registry"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/relay"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/supervisor"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
	"github.com/rmacdonaldsmith/meshrelay-go/pkg/meshnode"
)

var (
	// ErrNotStarted is returned by operations that need the endpoints to be bound
	ErrNotStarted = errors.New("mesh node not started")
	// ErrClosed is returned once Shutdown has begun
	ErrClosed = errors.New("mesh node closed")
	// ErrUnknownNode is returned by Disconnect for an address with no link
	ErrUnknownNode = errors.New("no link to node")
)

// Node implements the meshnode.MeshNode interface.
//
// One mutex serializes every registry mutation and every relay dispatch. Links
// queue outgoing frames, so nothing done under the lock waits on the network.
type Node struct {
	config *Config
	logger *zap.Logger

	mu      sync.Mutex
	self    string
	leaves  *registry.Leaves
	nodes   *registry.Nodes
	relay   *relay.Relay
	started bool
	closed  bool

	// lifetime of every supervisor and link goroutine
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dialer     *peerlink.Dialer
	peerServer *peerlink.Server
	httpServer *httpapi.Server
	leafAddr   string
}

// New creates a mesh node with the given configuration. Call Start to bind its endpoints.
func New(config *Config) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.SetDefaults()

	n := &Node{
		config: config,
		logger: config.Logger.Named("meshnode"),
		self:   config.AdvertiseAddress,
		leaves: registry.NewLeaves(),
	}
	n.nodes = registry.NewNodes(n.self, connector{n}, n.logger)
	n.relay = relay.New(n.leaves, n.nodes)
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n, nil
}

// Start binds the node and leaf endpoints, then connects to the seed peers.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.started {
		n.mu.Unlock()
		return nil
	}

	if err := n.bind(); err != nil {
		n.mu.Unlock()
		return err
	}
	n.started = true
	self := n.self
	n.mu.Unlock()

	n.logger.Info("mesh node started",
		zap.String("self", self), zap.String("leaf_addr", n.leafAddr))

	peers, err := discovery.NewStaticDiscovery(n.config.Peers, self).FindPeers(ctx)
	if err != nil {
		return fmt.Errorf("failed to find peers: %w", err)
	}
	for _, address := range peers {
		if err := n.ConnectTo(address); err != nil {
			n.logger.Warn("skipping seed peer", zap.String("addr", address), zap.Error(err))
		}
	}
	return nil
}

// bind opens both listeners and starts serving. Called with mu held.
func (n *Node) bind() error {
	nodeLis, err := net.Listen("tcp", n.config.NodeListen)
	if err != nil {
		return fmt.Errorf("failed to listen on node address %s: %w", n.config.NodeListen, err)
	}
	if n.self == "" {
		n.self = nodeLis.Addr().String()
	}
	n.nodes.SetSelf(n.self)

	plConfig := peerlink.Config{
		NodeAddress:       n.self,
		SendQueueSize:     n.config.SendQueueSize,
		HeartbeatInterval: n.config.HeartbeatInterval,
		HandshakeTimeout:  n.config.HandshakeTimeout,
		MaxMessageSize:    n.config.MaxMessageSize,
		Logger:            n.config.Logger,
	}
	peerServer, err := peerlink.NewServer(plConfig, n)
	if err != nil {
		_ = nodeLis.Close()
		return fmt.Errorf("failed to create node endpoint: %w", err)
	}
	dialer, err := peerlink.NewDialer(plConfig)
	if err != nil {
		_ = nodeLis.Close()
		return fmt.Errorf("failed to create node dialer: %w", err)
	}

	leafLis, err := net.Listen("tcp", n.config.LeafListen)
	if err != nil {
		_ = nodeLis.Close()
		return fmt.Errorf("failed to listen on leaf address %s: %w", n.config.LeafListen, err)
	}
	httpServer := httpapi.NewServer(n, httpapi.Config{
		SendQueueSize:  n.config.SendQueueSize,
		MaxMessageSize: int64(n.config.MaxMessageSize),
		WriteTimeout:   n.config.WriteTimeout,
		Logger:         n.config.Logger,
	})

	n.peerServer = peerServer
	n.dialer = dialer
	n.httpServer = httpServer
	n.leafAddr = leafLis.Addr().String()

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		if err := peerServer.Serve(nodeLis); err != nil {
			n.logger.Error("node endpoint stopped", zap.Error(err))
		}
	}()
	go func() {
		defer n.wg.Done()
		if err := httpServer.Serve(leafLis); err != nil {
			n.logger.Error("leaf endpoint stopped", zap.Error(err))
		}
	}()
	return nil
}

// ConnectTo opens a supervised outbound link to the node at address. It is a
// no-op when a link to address already exists in either direction.
func (n *Node) ConnectTo(address string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if !n.started {
		return ErrNotStarted
	}

	_, created, err := n.nodes.ConnectTo(address)
	if err != nil {
		return err
	}
	if created {
		n.logger.Info("connecting to node", zap.String("addr", address))
	}
	return nil
}

// connector starts supervisors on behalf of the node registry
type connector struct {
	n *Node
}

// Connect is called by the registry with the node's mu held
func (c connector) Connect(address string) (*supervisor.Supervisor, error) {
	n := c.n
	sup, err := supervisor.New(supervisor.Config{
		Target: address,
		Dial: func(ctx context.Context) (linkpkg.Link, error) {
			conn, err := n.dialer.Dial(ctx, address)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		Policy: supervisor.Unbounded(n.config.Backoff),
		OnMessage: func(_ linkpkg.Link, msg []byte) {
			n.dispatch(relay.NodeSource(address), msg)
		},
		Logger: n.logger.Named("supervisor"),
	})
	if err != nil {
		return nil, err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		_ = sup.Run(n.ctx)
	}()
	return sup, nil
}

// Disconnect closes the link to address, whichever side opened it
func (n *Node) Disconnect(address string) error {
	n.mu.Lock()
	entry := n.nodes.Unregister(address)
	n.mu.Unlock()

	if entry == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, address)
	}
	n.logger.Info("disconnecting node", zap.String("addr", address), zap.Stringer("direction", entry.Direction()))
	return entry.Close()
}

// AcceptLeaf registers a leaf link and starts its receive loop
func (n *Node) AcceptLeaf(l linkpkg.Link) (string, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return "", ErrClosed
	}
	id := n.leaves.Register(l)
	n.wg.Add(1)
	n.mu.Unlock()

	n.logger.Info("leaf connected", zap.String("leaf", id), zap.String("remote", l.ID()))
	go n.serveLeaf(id, l)
	return id, nil
}

func (n *Node) serveLeaf(id string, l linkpkg.Link) {
	defer n.wg.Done()

	err := n.receive(l, relay.LeafSource(id))

	n.mu.Lock()
	n.leaves.Unregister(id)
	n.mu.Unlock()
	_ = l.Close()

	n.logger.Info("leaf disconnected", zap.String("leaf", id),
		zap.String("kind", string(linkpkg.Classify(err))), zap.Error(err))
}

// AcceptNode registers an inbound node link and starts its receive loop.
// A link it displaces is closed before AcceptNode returns.
func (n *Node) AcceptNode(address string, l linkpkg.Link) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if !n.started {
		n.mu.Unlock()
		return ErrNotStarted
	}
	replaced, err := n.nodes.RegisterInbound(address, l)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	n.wg.Add(1)
	n.mu.Unlock()

	if replaced != nil {
		_ = replaced.Close()
	}
	n.logger.Info("node connected", zap.String("addr", address), zap.Stringer("direction", linkpkg.Inbound))
	go n.serveNode(address, l)
	return nil
}

func (n *Node) serveNode(address string, l linkpkg.Link) {
	defer n.wg.Done()

	err := n.receive(l, relay.NodeSource(address))

	n.mu.Lock()
	n.nodes.Remove(address, l)
	n.mu.Unlock()
	_ = l.Close()

	n.logger.Info("node disconnected", zap.String("addr", address),
		zap.String("kind", string(linkpkg.Classify(err))), zap.Error(err))
}

// receive dispatches every message from l until Recv fails
func (n *Node) receive(l linkpkg.Link, src relay.Source) error {
	for {
		msg, err := l.Recv()
		if err != nil {
			return err
		}
		n.dispatch(src, msg)
	}
}

func (n *Node) dispatch(src relay.Source, msg []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	res := n.relay.Dispatch(src, msg)
	if res.Dropped > 0 {
		n.logger.Debug("dropped relayed messages",
			zap.Stringer("source", src.Role), zap.String("id", src.ID), zap.Int("dropped", res.Dropped))
	}
}

// Shutdown closes every link and supervisor, stops both endpoints and waits for
// every goroutine the node started, bounded by ctx.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	leaves := n.leaves.Clear()
	nodes := n.nodes.Clear()
	httpServer, peerServer := n.httpServer, n.peerServer
	n.mu.Unlock()

	n.cancel()

	var errs []error
	if httpServer != nil {
		if err := httpServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop leaf endpoint: %w", err))
		}
	}
	for _, entry := range nodes {
		if err := entry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close node link %s: %w", entry.Address(), err))
		}
	}
	for _, leaf := range leaves {
		_ = leaf.Link.Close()
	}
	if peerServer != nil {
		peerServer.Stop()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for link goroutines: %w", ctx.Err()))
	}

	n.logger.Info("mesh node stopped", zap.String("self", n.Address()),
		zap.Int("leaves_closed", len(leaves)), zap.Int("nodes_closed", len(nodes)))
	return errors.Join(errs...)
}

// Close shuts the node down without a deadline
func (n *Node) Close() error {
	return n.Shutdown(context.Background())
}

// DumpStatus returns a snapshot of the node's links
func (n *Node) DumpStatus() meshnode.Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	status := meshnode.Status{
		Self: n.self,
		Leaf: n.leaves.IDs(),
		Node: make(map[string]string, n.nodes.Len()),
	}
	for _, entry := range n.nodes.All() {
		status.Node[entry.Address()] = entry.Direction().String()
	}
	return status
}

// GetHealth returns the overall health status of this mesh node.
func (n *Node) GetHealth(ctx context.Context) (meshnode.HealthStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	health := meshnode.HealthStatus{
		Healthy:   n.started && !n.closed,
		LeafLinks: n.leaves.Len(),
		NodeLinks: n.nodes.Len(),
	}
	for _, entry := range n.nodes.All() {
		if entry.Connected() {
			health.ConnectedNodes++
		}
	}

	switch {
	case n.closed:
		health.Message = "Mesh node is shut down"
	case !n.started:
		health.Message = "Mesh node is not started"
	default:
		health.Message = "All systems operational"
	}
	return health, nil
}

// Address returns the advertised node address
func (n *Node) Address() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.self
}

// LeafAddress returns the bound leaf endpoint address, empty before Start
func (n *Node) LeafAddress() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leafAddr
}

// Verify that Node implements the MeshNode interface at compile time
var _ meshnode.MeshNode = (*Node)(nil)
