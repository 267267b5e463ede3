package link

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

// pipeFrames is an in-memory Frames used to drive a Conn without a network
type pipeFrames struct {
	in       chan []byte
	mu       sync.Mutex
	written  [][]byte
	block    chan struct{} // when non-nil, WriteFrame waits on it
	writeErr error
	closed   chan struct{}
	once     sync.Once
}

func newPipeFrames() *pipeFrames {
	return &pipeFrames{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *pipeFrames) ReadFrame() ([]byte, error) {
	select {
	case msg, ok := <-p.in:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-p.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (p *pipeFrames) WriteFrame(msg []byte) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-p.closed:
			return errors.New("use of closed connection")
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return p.writeErr
	}
	p.written = append(p.written, msg)
	return nil
}

func (p *pipeFrames) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeFrames) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.written))
	for i, m := range p.written {
		out[i] = string(m)
	}
	return out
}

func TestConn(t *testing.T) {
	t.Run("send_is_written_in_order", func(t *testing.T) {
		frames := newPipeFrames()
		c := New(Config{ID: "a", Role: linkpkg.Leaf}, frames)

		require.NoError(t, c.Send([]byte("one")))
		require.NoError(t, c.Send([]byte("two")))
		require.NoError(t, c.Close())

		assert.Equal(t, []string{"one", "two"}, frames.Written())
		assert.Equal(t, linkpkg.Closed, c.State())
	})

	t.Run("send_after_close_fails", func(t *testing.T) {
		c := New(Config{ID: "a"}, newPipeFrames())
		require.NoError(t, c.Close())

		err := c.Send([]byte("late"))
		assert.ErrorIs(t, err, linkpkg.ErrClosed)
	})

	t.Run("full_queue_drops_without_blocking", func(t *testing.T) {
		frames := newPipeFrames()
		frames.block = make(chan struct{})
		c := New(Config{ID: "a", SendQueueSize: 1, FlushTimeout: 50 * time.Millisecond}, frames)
		defer c.Close()

		// The writer holds the first message while blocked; the second fills the queue.
		require.NoError(t, c.Send([]byte("first")))
		require.Eventually(t, func() bool { return len(c.queue) == 0 }, time.Second, 5*time.Millisecond)
		require.NoError(t, c.Send([]byte("second")))

		err := c.Send([]byte("third"))
		assert.ErrorIs(t, err, linkpkg.ErrQueueFull)
	})

	t.Run("recv_returns_eof_after_local_close", func(t *testing.T) {
		c := New(Config{ID: "a"}, newPipeFrames())

		errCh := make(chan error, 1)
		go func() {
			_, err := c.Recv()
			errCh <- err
		}()

		require.NoError(t, c.Close())
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, io.EOF)
		case <-time.After(time.Second):
			t.Fatal("Recv did not return after Close")
		}
	})

	t.Run("recv_delivers_frames", func(t *testing.T) {
		frames := newPipeFrames()
		c := New(Config{ID: "a"}, frames)
		defer c.Close()

		frames.in <- []byte("hello")
		msg, err := c.Recv()
		require.NoError(t, err)
		assert.Equal(t, "hello", string(msg))

		close(frames.in)
		_, err = c.Recv()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("close_is_idempotent", func(t *testing.T) {
		c := New(Config{ID: "a"}, newPipeFrames())
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		select {
		case <-c.Done():
		default:
			t.Fatal("Done not closed after Close")
		}
	})

	t.Run("write_error_ends_the_link", func(t *testing.T) {
		frames := newPipeFrames()
		frames.writeErr = errors.New("broken pipe")
		c := New(Config{ID: "a"}, frames)
		defer c.Close()

		require.NoError(t, c.Send([]byte("x")))

		_, err := c.Recv()
		require.Error(t, err)
		assert.NotErrorIs(t, err, io.EOF)
	})
}

func TestWebsocketLink(t *testing.T) {
	upgrader := websocket.Upgrader{}
	accepted := make(chan *Conn, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewWebsocket(ws, Config{ID: r.RemoteAddr, Direction: linkpkg.Inbound, Role: linkpkg.Leaf}, WebsocketOptions{})
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := DialWebsocket(t.Context(), url, Config{Role: linkpkg.Node}, WebsocketOptions{})
	require.NoError(t, err)
	assert.Equal(t, linkpkg.Outbound, client.Direction())

	var serverSide *Conn
	select {
	case serverSide = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept")
	}

	require.NoError(t, client.Send([]byte("ping")))
	msg, err := serverSide.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg))

	require.NoError(t, serverSide.Send([]byte("pong")))
	msg, err = client.Recv()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(msg))

	// A clean close from one end is end-of-stream at the other.
	require.NoError(t, client.Close())
	_, err = serverSide.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, linkpkg.FailureNone, linkpkg.Classify(err))
	_ = serverSide.Close()
}

func TestDialWebsocketRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	_, err := DialWebsocket(t.Context(), url, Config{}, WebsocketOptions{})
	require.Error(t, err)
	assert.Equal(t, linkpkg.FailureRefused, linkpkg.Classify(err))
}

func TestDialWebsocketRejected(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	_, err := DialWebsocket(t.Context(), url, Config{}, WebsocketOptions{})
	require.Error(t, err)
	assert.Equal(t, linkpkg.FailureRejected, linkpkg.Classify(err))
}
