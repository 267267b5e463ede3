package relay

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/registry"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/supervisor"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/telemetry"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

type captureLink struct {
	mu   sync.Mutex
	got  []string
	role linkpkg.Role
}

func (c *captureLink) ID() string { return "capture" }
func (c *captureLink) Direction() linkpkg.Direction { return linkpkg.Inbound }
func (c *captureLink) Role() linkpkg.Role { return c.role }
func (c *captureLink) State() linkpkg.State { return linkpkg.Connected }
func (c *captureLink) Recv() ([]byte, error) { return nil, io.EOF }
func (c *captureLink) Done() <-chan struct{} { return nil }
func (c *captureLink) Close() error { return nil }

func (c *captureLink) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, string(msg))
	return nil
}

func (c *captureLink) Got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

type idleConnector struct{}

func (idleConnector) Connect(address string) (*supervisor.Supervisor, error) {
	return supervisor.New(supervisor.Config{
		Target: address,
		Dial:   func(ctx context.Context) (linkpkg.Link, error) { return nil, linkpkg.ErrRefused },
	})
}

type fixture struct {
	relay   *Relay
	leaves  *registry.Leaves
	nodes   *registry.Nodes
	leafA   *captureLink
	leafB   *captureLink
	leafAID string
	leafBID string
	peer1   *captureLink
	peer2   *captureLink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		leaves: registry.NewLeaves(),
		nodes:  registry.NewNodes("127.0.0.1:8701", idleConnector{}, nil),
		leafA:  &captureLink{role: linkpkg.Leaf},
		leafB:  &captureLink{role: linkpkg.Leaf},
		peer1:  &captureLink{role: linkpkg.Node},
		peer2:  &captureLink{role: linkpkg.Node},
	}
	f.leafAID = f.leaves.Register(f.leafA)
	f.leafBID = f.leaves.Register(f.leafB)
	_, err := f.nodes.RegisterInbound("127.0.0.1:8702", f.peer1)
	require.NoError(t, err)
	_, err = f.nodes.RegisterInbound("127.0.0.1:8703", f.peer2)
	require.NoError(t, err)
	f.relay = New(f.leaves, f.nodes)
	return f
}

func TestDispatchFromLeaf(t *testing.T) {
	f := newFixture(t)

	res := f.relay.Dispatch(LeafSource(f.leafAID), []byte("hello"))

	assert.Equal(t, Result{Leaves: 2, Nodes: 2}, res)
	assert.Equal(t, []string{"ECHO: hello"}, f.leafA.Got(), "sender gets exactly one echo")
	assert.Equal(t, []string{"hello"}, f.leafB.Got())
	assert.Equal(t, []string{"hello"}, f.peer1.Got())
	assert.Equal(t, []string{"hello"}, f.peer2.Got())
}

func TestDispatchFromNodeIsOneHop(t *testing.T) {
	f := newFixture(t)

	res := f.relay.Dispatch(NodeSource("127.0.0.1:8702"), []byte("remote"))

	assert.Equal(t, Result{Leaves: 2}, res)
	assert.Equal(t, []string{"remote"}, f.leafA.Got())
	assert.Equal(t, []string{"remote"}, f.leafB.Got())
	assert.Empty(t, f.peer1.Got(), "never echoed back to the source node")
	assert.Empty(t, f.peer2.Got(), "never forwarded to another node")
}

func TestDispatchCountsUnconnectedOutboundAsDropped(t *testing.T) {
	leaves := registry.NewLeaves()
	nodes := registry.NewNodes("127.0.0.1:8701", idleConnector{}, nil)
	entry, _, err := nodes.ConnectTo("127.0.0.1:8702")
	require.NoError(t, err)
	defer entry.Close()

	leaf := &captureLink{role: linkpkg.Leaf}
	id := leaves.Register(leaf)

	res := New(leaves, nodes).Dispatch(LeafSource(id), []byte("x"))

	assert.Equal(t, Result{Leaves: 1, Dropped: 1}, res)
	assert.Equal(t, []string{"ECHO: x"}, leaf.Got())
}

func TestDispatchCountsEchoAsLeafTarget(t *testing.T) {
	f := newFixture(t)
	leafBefore := testutil.ToFloat64(telemetry.MessagesRelayed.WithLabelValues("leaf"))
	nodeBefore := testutil.ToFloat64(telemetry.MessagesRelayed.WithLabelValues("node"))

	f.relay.Dispatch(LeafSource(f.leafAID), []byte("counted"))

	assert.Equal(t, leafBefore+2, testutil.ToFloat64(telemetry.MessagesRelayed.WithLabelValues("leaf")))
	assert.Equal(t, nodeBefore+2, testutil.ToFloat64(telemetry.MessagesRelayed.WithLabelValues("node")))
}
