package meshclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/link"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/supervisor"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

// LeafPath is the websocket path leaves connect to
const LeafPath = "/api/ws/leaf"

// ErrLeafClosed is returned by WaitConnected once the leaf has stopped
var ErrLeafClosed = errors.New("leaf client closed")

// LeafConfig configures a leaf client
type LeafConfig struct {
	// ServerURL is the node's leaf endpoint, http(s):// or ws(s)://
	ServerURL string

	// BufferSize for the message channel
	BufferSize int

	// ReconnectDelay between connect attempts
	ReconnectDelay time.Duration

	// MaxReconnectAttempts consecutive failures before giving up (0 = 5).
	// The count resets after every successful connection.
	MaxReconnectAttempts int

	SendQueueSize  int
	MaxMessageSize int64

	Logger *zap.Logger
}

// SetDefaults sets reasonable default values for LeafConfig
func (c *LeafConfig) SetDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = 100
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Leaf is a mesh participant that sends and receives opaque messages through one
// node. It reconnects with bounded retries when the connection drops.
type Leaf struct {
	config LeafConfig
	url    string
	sup    *supervisor.Supervisor

	messages  chan []byte
	connected chan struct{}

	// mu guards running and drained; drained is set once messages is closed
	mu      sync.Mutex
	running bool
	drained bool

	connOnce  sync.Once
	stopped   chan struct{}
	stopOnce  sync.Once
}

// NewLeaf creates a leaf client. Call Run or Start to connect.
func NewLeaf(config LeafConfig) (*Leaf, error) {
	config.SetDefaults()

	wsURL, err := LeafURL(config.ServerURL)
	if err != nil {
		return nil, err
	}

	l := &Leaf{
		config:    config,
		url:       wsURL,
		messages:  make(chan []byte, config.BufferSize),
		connected: make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	l.sup, err = supervisor.New(supervisor.Config{
		Target:    wsURL,
		Dial:      l.dial,
		Policy:    supervisor.Bounded(config.ReconnectDelay, config.MaxReconnectAttempts),
		OnConnect: func(linkpkg.Link) { l.connOnce.Do(func() { close(l.connected) }) },
		OnMessage: l.deliver,
		Logger:    config.Logger.Named("leaf"),
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// LeafURL turns a node's HTTP base URL into its leaf websocket URL
func LeafURL(serverURL string) (string, error) {
	if serverURL == "" {
		return "", fmt.Errorf("ServerURL is required")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid ServerURL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid ServerURL: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = LeafPath
	} else if !strings.HasSuffix(u.Path, LeafPath) {
		u.Path = strings.TrimSuffix(u.Path, "/") + LeafPath
	}
	return u.String(), nil
}

func (l *Leaf) dial(ctx context.Context) (linkpkg.Link, error) {
	conn, err := link.DialWebsocket(ctx, l.url, link.Config{
		ID:            l.url,
		Direction:     linkpkg.Outbound,
		Role:          linkpkg.Leaf,
		SendQueueSize: l.config.SendQueueSize,
		Logger:        l.config.Logger,
	}, link.WebsocketOptions{MaxMessageSize: l.config.MaxMessageSize})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// deliver hands msg to the reader, waiting for room unless the leaf is stopping
func (l *Leaf) deliver(_ linkpkg.Link, msg []byte) {
	select {
	case l.messages <- msg:
	case <-l.stopped:
	}
}

func (l *Leaf) stop() {
	l.stopOnce.Do(func() { close(l.stopped) })
}

// drain closes the messages channel. Called with mu held.
func (l *Leaf) drain() {
	if !l.drained {
		l.drained = true
		close(l.messages)
	}
}

// Run connects and reconnects until ctx is cancelled, Close is called or the
// retry budget is spent. The Messages channel is closed when Run returns.
// Run after Close returns ErrLeafClosed.
func (l *Leaf) Run(ctx context.Context) error {
	l.mu.Lock()
	switch {
	case l.running:
		l.mu.Unlock()
		return supervisor.ErrAlreadyStarted
	case l.drained:
		l.mu.Unlock()
		return ErrLeafClosed
	}
	l.running = true
	l.mu.Unlock()

	release := context.AfterFunc(ctx, l.stop)
	defer release()

	err := l.sup.Run(ctx)
	l.stop()

	l.mu.Lock()
	l.drain()
	l.mu.Unlock()
	return err
}

// Start runs the leaf in a new goroutine
func (l *Leaf) Start(ctx context.Context) {
	go func() { _ = l.Run(ctx) }()
}

// WaitConnected blocks until the first connection is established
func (l *Leaf) WaitConnected(ctx context.Context) error {
	select {
	case <-l.connected:
		return nil
	default:
	}
	select {
	case <-l.connected:
		return nil
	case <-l.sup.Done():
		if err := l.sup.Err(); err != nil {
			return err
		}
		return ErrLeafClosed
	case <-l.stopped:
		if err := l.sup.Err(); err != nil {
			return err
		}
		return ErrLeafClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues msg for the node. It fails while disconnected.
func (l *Leaf) Send(msg []byte) error {
	return l.sup.Send(msg)
}

// Messages returns the channel of messages received from the node
func (l *Leaf) Messages() <-chan []byte {
	return l.messages
}

// Connected reports whether a connection is currently open
func (l *Leaf) Connected() bool {
	return l.sup.State() == supervisor.Connected
}

// Done is closed once the leaf has stopped
func (l *Leaf) Done() <-chan struct{} {
	return l.sup.Done()
}

// Err returns the last connection error
func (l *Leaf) Err() error {
	return l.sup.Err()
}

// Close disconnects and stops reconnecting. Closing a leaf that never ran
// closes the Messages channel straight away.
func (l *Leaf) Close() error {
	l.stop()
	l.mu.Lock()
	if !l.running {
		l.drain()
	}
	l.mu.Unlock()
	l.sup.Stop()
	return nil
}
