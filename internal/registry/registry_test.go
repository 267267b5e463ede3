package registry

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/supervisor"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

// stubLink records what is sent to it; Send fails once full is set
type stubLink struct {
	mu     sync.Mutex
	sent   []string
	full   bool
	closed bool
}

func (s *stubLink) ID() string { return "stub" }
func (s *stubLink) Direction() linkpkg.Direction { return linkpkg.Inbound }
func (s *stubLink) Role() linkpkg.Role { return linkpkg.Leaf }
func (s *stubLink) Recv() ([]byte, error) { return nil, io.EOF }
func (s *stubLink) Done() <-chan struct{} { return nil }

func (s *stubLink) State() linkpkg.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return linkpkg.Closed
	}
	return linkpkg.Connected
}

func (s *stubLink) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return linkpkg.ErrQueueFull
	}
	s.sent = append(s.sent, string(msg))
	return nil
}

func (s *stubLink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubLink) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// countingConnector builds supervisors that are never started
type countingConnector struct {
	calls []string
}

func (c *countingConnector) Connect(address string) (*supervisor.Supervisor, error) {
	c.calls = append(c.calls, address)
	return supervisor.New(supervisor.Config{
		Target: address,
		Dial: func(ctx context.Context) (linkpkg.Link, error) {
			return nil, linkpkg.ErrRefused
		},
	})
}

func TestLeaves(t *testing.T) {
	t.Run("register_assigns_unique_ids_in_order", func(t *testing.T) {
		leaves := NewLeaves()
		a := leaves.Register(&stubLink{})
		b := leaves.Register(&stubLink{})

		assert.NotEqual(t, a, b)
		assert.Equal(t, []string{a, b}, leaves.IDs())
		assert.Equal(t, 2, leaves.Len())
	})

	t.Run("unregister_is_idempotent", func(t *testing.T) {
		leaves := NewLeaves()
		id := leaves.Register(&stubLink{})

		assert.True(t, leaves.Unregister(id))
		assert.False(t, leaves.Unregister(id))
		assert.Equal(t, 0, leaves.Len())
	})

	t.Run("broadcast_echoes_sender_once_and_forwards_to_others", func(t *testing.T) {
		leaves := NewLeaves()
		sender, other1, other2 := &stubLink{}, &stubLink{}, &stubLink{}
		id := leaves.Register(sender)
		leaves.Register(other1)
		leaves.Register(other2)

		sent, dropped := leaves.Broadcast(id, []byte("hi"))

		assert.Equal(t, 3, sent)
		assert.Equal(t, 0, dropped)
		assert.Equal(t, []string{"ECHO: hi"}, sender.Sent())
		assert.Equal(t, []string{"hi"}, other1.Sent())
		assert.Equal(t, []string{"hi"}, other2.Sent())
	})

	t.Run("broadcast_without_sender_has_no_echo", func(t *testing.T) {
		leaves := NewLeaves()
		a := &stubLink{}
		leaves.Register(a)

		leaves.Broadcast("", []byte("from node"))
		assert.Equal(t, []string{"from node"}, a.Sent())
	})

	t.Run("broadcast_counts_drops_and_continues", func(t *testing.T) {
		leaves := NewLeaves()
		full, ok := &stubLink{full: true}, &stubLink{}
		leaves.Register(full)
		leaves.Register(ok)

		sent, dropped := leaves.Broadcast("", []byte("x"))
		assert.Equal(t, 1, sent)
		assert.Equal(t, 1, dropped)
		assert.Equal(t, []string{"x"}, ok.Sent())
	})

	t.Run("clear_returns_everything", func(t *testing.T) {
		leaves := NewLeaves()
		leaves.Register(&stubLink{})
		leaves.Register(&stubLink{})

		cleared := leaves.Clear()
		assert.Len(t, cleared, 2)
		assert.Equal(t, 0, leaves.Len())
		assert.Empty(t, leaves.All())
	})
}

func TestValidateAddress(t *testing.T) {
	valid := []string{"127.0.0.1:8701", "localhost:1", "[::1]:65535", "node-a.mesh:9000"}
	for _, addr := range valid {
		assert.NoError(t, ValidateAddress(addr), addr)
	}

	invalid := []string{"", "127.0.0.1", ":8701", "127.0.0.1:0", "127.0.0.1:70000", "127.0.0.1:http", "not an address"}
	for _, addr := range invalid {
		assert.ErrorIs(t, ValidateAddress(addr), ErrInvalidAddress, addr)
	}
}

func TestNodes_ConnectTo(t *testing.T) {
	t.Run("repeated_connect_is_a_no_op", func(t *testing.T) {
		connector := &countingConnector{}
		nodes := NewNodes("127.0.0.1:8701", connector, nil)

		first, created, err := nodes.ConnectTo("127.0.0.1:8702")
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := nodes.ConnectTo("127.0.0.1:8702")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Same(t, first, second)

		assert.Equal(t, []string{"127.0.0.1:8702"}, connector.calls)
		assert.Equal(t, 1, nodes.Len())
		assert.Equal(t, linkpkg.Outbound, first.Direction())
	})

	t.Run("existing_inbound_suppresses_connect", func(t *testing.T) {
		connector := &countingConnector{}
		nodes := NewNodes("127.0.0.1:8701", connector, nil)
		_, err := nodes.RegisterInbound("127.0.0.1:8702", &stubLink{})
		require.NoError(t, err)

		entry, created, err := nodes.ConnectTo("127.0.0.1:8702")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, linkpkg.Inbound, entry.Direction())
		assert.Empty(t, connector.calls)
	})

	t.Run("rejects_self_and_malformed", func(t *testing.T) {
		nodes := NewNodes("127.0.0.1:8701", &countingConnector{}, nil)

		_, _, err := nodes.ConnectTo("127.0.0.1:8701")
		assert.ErrorIs(t, err, ErrSelfLink)

		_, _, err = nodes.ConnectTo("nope")
		assert.ErrorIs(t, err, ErrInvalidAddress)
		assert.Equal(t, 0, nodes.Len())
	})
}

func TestNodes_RegisterInbound(t *testing.T) {
	t.Run("stores_new_inbound", func(t *testing.T) {
		nodes := NewNodes("127.0.0.1:8701", &countingConnector{}, nil)
		l := &stubLink{}

		replaced, err := nodes.RegisterInbound("127.0.0.1:8702", l)
		require.NoError(t, err)
		assert.Nil(t, replaced)

		entry, ok := nodes.Get("127.0.0.1:8702")
		require.True(t, ok)
		assert.Equal(t, linkpkg.Inbound, entry.Direction())
		assert.True(t, entry.Connected())
	})

	t.Run("newer_inbound_replaces_older", func(t *testing.T) {
		nodes := NewNodes("127.0.0.1:8701", &countingConnector{}, nil)
		old, fresh := &stubLink{}, &stubLink{}
		_, err := nodes.RegisterInbound("127.0.0.1:8702", old)
		require.NoError(t, err)

		replaced, err := nodes.RegisterInbound("127.0.0.1:8702", fresh)
		require.NoError(t, err)
		require.NotNil(t, replaced)
		assert.True(t, replaced.owns(old))
		assert.Equal(t, 1, nodes.Len())

		// The old receive loop ending must not evict the new entry.
		assert.False(t, nodes.Remove("127.0.0.1:8702", old))
		assert.True(t, nodes.Remove("127.0.0.1:8702", fresh))
		assert.Equal(t, 0, nodes.Len())
	})

	t.Run("inbound_from_smaller_address_wins_over_outbound", func(t *testing.T) {
		nodes := NewNodes("127.0.0.1:8702", &countingConnector{}, nil)
		_, _, err := nodes.ConnectTo("127.0.0.1:8701")
		require.NoError(t, err)

		replaced, err := nodes.RegisterInbound("127.0.0.1:8701", &stubLink{})
		require.NoError(t, err)
		require.NotNil(t, replaced)
		assert.Equal(t, linkpkg.Outbound, replaced.Direction())

		entry, _ := nodes.Get("127.0.0.1:8701")
		assert.Equal(t, linkpkg.Inbound, entry.Direction())
		require.NoError(t, replaced.Close())
	})

	t.Run("inbound_from_larger_address_loses_to_outbound", func(t *testing.T) {
		nodes := NewNodes("127.0.0.1:8701", &countingConnector{}, nil)
		_, _, err := nodes.ConnectTo("127.0.0.1:8702")
		require.NoError(t, err)

		replaced, err := nodes.RegisterInbound("127.0.0.1:8702", &stubLink{})
		assert.ErrorIs(t, err, ErrDuplicateLink)
		assert.Nil(t, replaced)

		entry, _ := nodes.Get("127.0.0.1:8702")
		assert.Equal(t, linkpkg.Outbound, entry.Direction())
	})

	t.Run("missing_or_malformed_address_is_rejected", func(t *testing.T) {
		nodes := NewNodes("127.0.0.1:8701", &countingConnector{}, nil)

		_, err := nodes.RegisterInbound("", &stubLink{})
		assert.ErrorIs(t, err, ErrInvalidAddress)

		_, err = nodes.RegisterInbound("127.0.0.1", &stubLink{})
		assert.ErrorIs(t, err, ErrInvalidAddress)

		_, err = nodes.RegisterInbound("127.0.0.1:8701", &stubLink{})
		assert.ErrorIs(t, err, ErrSelfLink)

		assert.Equal(t, 0, nodes.Len())
	})
}

func TestNodes_AllAndClear(t *testing.T) {
	nodes := NewNodes("127.0.0.1:8701", &countingConnector{}, nil)
	_, _, err := nodes.ConnectTo("127.0.0.1:8703")
	require.NoError(t, err)
	_, err = nodes.RegisterInbound("127.0.0.1:8702", &stubLink{})
	require.NoError(t, err)

	all := nodes.All()
	require.Len(t, all, 2)
	assert.Equal(t, "127.0.0.1:8702", all[0].Address())
	assert.Equal(t, "127.0.0.1:8703", all[1].Address())

	assert.NotNil(t, nodes.Unregister("127.0.0.1:8702"))
	assert.Nil(t, nodes.Unregister("127.0.0.1:8702"))

	cleared := nodes.Clear()
	assert.Len(t, cleared, 1)
	assert.Equal(t, 0, nodes.Len())
	for _, n := range cleared {
		require.NoError(t, n.Close())
	}
}
