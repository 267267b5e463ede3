package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

const (
	// DefaultMaxMessageSize caps a single inbound frame
	DefaultMaxMessageSize = 1 << 20
	// DefaultWriteTimeout bounds a single frame write
	DefaultWriteTimeout = 10 * time.Second
)

// WebsocketOptions tunes the websocket frame transport
type WebsocketOptions struct {
	MaxMessageSize int64
	WriteTimeout   time.Duration
}

func (o *WebsocketOptions) setDefaults() {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
}

// wsFrames carries text frames over a gorilla websocket connection
type wsFrames struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// NewWebsocket wraps an established websocket connection in a Conn
func NewWebsocket(conn *websocket.Conn, config Config, opts WebsocketOptions) *Conn {
	opts.setDefaults()
	conn.SetReadLimit(opts.MaxMessageSize)
	return New(config, &wsFrames{conn: conn, writeTimeout: opts.WriteTimeout})
}

func (f *wsFrames) ReadFrame() ([]byte, error) {
	_, msg, err := f.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("remote closed: %w", io.EOF)
		}
		return nil, fmt.Errorf("%w: %w", linkpkg.ErrUnexpectedClose, err)
	}
	return msg, nil
}

func (f *wsFrames) WriteFrame(msg []byte) error {
	if err := f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout)); err != nil {
		return err
	}
	return f.conn.WriteMessage(websocket.TextMessage, msg)
}

func (f *wsFrames) Close() error {
	var err error
	f.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = f.conn.Close()
	})
	return err
}

// DialWebsocket opens an outbound websocket link to url. The handshake is bounded
// by ctx; dial failures are classified as refused or timed out.
func DialWebsocket(ctx context.Context, url string, config Config, opts WebsocketOptions) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, classifyDialError(ctx, err, resp)
	}

	if config.ID == "" {
		config.ID = url
	}
	config.Direction = linkpkg.Outbound
	return NewWebsocket(conn, config, opts), nil
}

func classifyDialError(ctx context.Context, err error, resp *http.Response) error {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %w", linkpkg.ErrRefused, err)
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", linkpkg.ErrTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", linkpkg.ErrTimeout, err)
	case errors.Is(err, websocket.ErrBadHandshake):
		if resp != nil {
			return fmt.Errorf("%w: handshake status %d", linkpkg.ErrRejected, resp.StatusCode)
		}
		return fmt.Errorf("%w: %w", linkpkg.ErrRejected, err)
	default:
		return fmt.Errorf("%w: %w", linkpkg.ErrRefused, err)
	}
}
