package link

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

// Frames is the transport underneath a Conn: one opaque frame per message.
// ReadFrame is called from a single reader and WriteFrame from a single writer.
type Frames interface {
	ReadFrame() ([]byte, error)
	WriteFrame(msg []byte) error
	Close() error
}

// Config holds configuration for a Conn
type Config struct {
	ID            string
	Direction     linkpkg.Direction
	Role          linkpkg.Role
	SendQueueSize int
	// FlushTimeout bounds how long Close waits for queued frames to be written
	FlushTimeout time.Duration
	Logger       *zap.Logger
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 1000
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Conn implements linkpkg.Link on top of a Frames transport.
// Outgoing messages go through a bounded queue drained by a dedicated writer goroutine.
type Conn struct {
	config Config
	frames Frames
	logger *zap.Logger

	state atomic.Int32
	queue chan []byte

	stopping   chan struct{} // closed when Close starts; tells the writer to flush and exit
	writerDone chan struct{}
	closed     chan struct{} // closed when Close has finished
	closeOnce  sync.Once
	closeErr   error
}

// New wraps frames in a connected Conn and starts its writer
func New(config Config, frames Frames) *Conn {
	config.SetDefaults()

	c := &Conn{
		config:     config,
		frames:     frames,
		logger:     config.Logger.With(zap.String("link", config.ID), zap.Stringer("role", config.Role)),
		queue:      make(chan []byte, config.SendQueueSize),
		stopping:   make(chan struct{}),
		writerDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	c.state.Store(int32(linkpkg.Connected))

	go c.writeLoop()
	return c
}

// ID returns the link identity
func (c *Conn) ID() string { return c.config.ID }

// Direction returns whether the link was accepted or initiated locally
func (c *Conn) Direction() linkpkg.Direction { return c.config.Direction }

// Role returns the role of the remote end
func (c *Conn) Role() linkpkg.Role { return c.config.Role }

// State returns the current lifecycle state
func (c *Conn) State() linkpkg.State { return linkpkg.State(c.state.Load()) }

// Done is closed once Close has completed
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Send queues msg for the writer. It never blocks.
func (c *Conn) Send(msg []byte) error {
	select {
	case <-c.stopping:
		return linkpkg.ErrClosed
	default:
	}

	select {
	case c.queue <- msg:
		return nil
	default:
		return linkpkg.ErrQueueFull
	}
}

// Recv blocks until the next frame arrives. After a local Close every read error
// is reported as io.EOF so owners see a clean end of stream.
func (c *Conn) Recv() ([]byte, error) {
	msg, err := c.frames.ReadFrame()
	if err != nil {
		if c.State() >= linkpkg.Closing || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return msg, nil
}

// Close flushes queued frames (bounded by FlushTimeout), then closes the transport.
// Safe to call multiple times and from multiple goroutines.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(linkpkg.Closing))
		close(c.stopping)

		timer := time.NewTimer(c.config.FlushTimeout)
		select {
		case <-c.writerDone:
			timer.Stop()
		case <-timer.C:
			c.logger.Debug("flush timed out, forcing close")
		}

		c.closeErr = c.frames.Close()
		<-c.writerDone

		c.state.Store(int32(linkpkg.Closed))
		close(c.closed)
	})
	return c.closeErr
}

// writeLoop drains the send queue. A write error ends the link: the transport is
// closed so the reader observes the failure.
func (c *Conn) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case msg := <-c.queue:
			if err := c.frames.WriteFrame(msg); err != nil {
				c.abort(err)
				return
			}
		case <-c.stopping:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued when Close starts
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.queue:
			if err := c.frames.WriteFrame(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) abort(err error) {
	if c.State() >= linkpkg.Closing {
		return
	}
	c.logger.Debug("write failed, closing transport", zap.Error(err))
	_ = c.frames.Close()
}

// Verify that Conn implements the Link interface at compile time
var _ linkpkg.Link = (*Conn)(nil)
