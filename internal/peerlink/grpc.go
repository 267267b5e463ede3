package peerlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/link"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/registry"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

const (
	// fromAddrKey carries the dialing node's advertised address
	fromAddrKey = "from-addr"
	// nodeAddrKey is sent back in the response header once the link is accepted
	nodeAddrKey = "node-addr"

	linkMethod = "/meshrelay.peerlink.v1.PeerLink/Link"
)

// Acceptor takes ownership of inbound node links
type Acceptor interface {
	// AcceptNode registers l under the remote node's advertised address.
	// A non-nil error rejects the link.
	AcceptNode(address string, l linkpkg.Link) error
}

// linkServer is the handler type for the PeerLink service
type linkServer interface {
	Link(stream grpc.ServerStream) error
}

// One bidirectional stream per node pair, each frame a BytesValue.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "meshrelay.peerlink.v1.PeerLink",
	HandlerType: (*linkServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Link",
			Handler:       linkHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "meshrelay/peerlink/v1/peerlink.proto",
}

func linkHandler(srv any, stream grpc.ServerStream) error {
	return srv.(linkServer).Link(stream)
}

// Server accepts node links over gRPC and hands them to an Acceptor
type Server struct {
	config     Config
	acceptor   Acceptor
	grpcServer *grpc.Server
	logger     *zap.Logger
}

// NewServer creates a Server with the given configuration
func NewServer(config Config, acceptor Acceptor) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if acceptor == nil {
		return nil, errors.New("acceptor cannot be nil")
	}
	config.SetDefaults()

	s := &Server{
		config:   config,
		acceptor: acceptor,
		logger:   config.Logger.Named("peerlink"),
	}
	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(config.FrameLimit()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.HeartbeatInterval,
			Timeout: config.HeartbeatInterval,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             config.HeartbeatInterval / 2,
			PermitWithoutStream: true,
		}),
	)
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s, nil
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	err := s.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop closes the listener and every open stream
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// Link handles one inbound stream for its whole lifetime
func (s *Server) Link(stream grpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	values := md.Get(fromAddrKey)
	if len(values) == 0 || values[0] == "" {
		return status.Error(codes.InvalidArgument, "missing from-addr")
	}
	from := values[0]

	frames := newServerFrames(stream)
	l := link.New(link.Config{
		ID:            from,
		Direction:     linkpkg.Inbound,
		Role:          linkpkg.Node,
		SendQueueSize: s.config.SendQueueSize,
		Logger:        s.logger,
	}, frames)

	if err := s.acceptor.AcceptNode(from, l); err != nil {
		s.logger.Info("inbound node link rejected", zap.String("from", from), zap.Error(err))
		_ = l.Close()
		return status.Errorf(rejectCode(err), "link from %s rejected: %v", from, err)
	}

	if err := stream.SendHeader(metadata.Pairs(nodeAddrKey, s.config.NodeAddress)); err != nil {
		_ = l.Close()
		return err
	}
	frames.markReady()

	select {
	case <-frames.closed:
	case <-stream.Context().Done():
	}
	return nil
}

// rejectCode maps an acceptor error to the status returned to the dialing node
func rejectCode(err error) codes.Code {
	switch {
	case errors.Is(err, registry.ErrInvalidAddress), errors.Is(err, registry.ErrSelfLink):
		return codes.InvalidArgument
	case errors.Is(err, registry.ErrDuplicateLink):
		return codes.AlreadyExists
	default:
		return codes.FailedPrecondition
	}
}

// Dialer opens outbound node links
type Dialer struct {
	config Config
	logger *zap.Logger
}

// NewDialer creates a Dialer with the given configuration
func NewDialer(config Config) (*Dialer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.SetDefaults()
	return &Dialer{config: config, logger: config.Logger.Named("peerlink")}, nil
}

// Dial connects to the node at address and completes the handshake.
// The link lives until it is closed or ctx is cancelled.
func (d *Dialer) Dial(ctx context.Context, address string) (*link.Conn, error) {
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                d.config.HeartbeatInterval,
			Timeout:             d.config.HeartbeatInterval,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(d.config.FrameLimit()),
			grpc.MaxCallSendMsgSize(d.config.FrameLimit()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", linkpkg.ErrRefused, address, err)
	}

	streamCtx, cancel := context.WithCancel(metadata.AppendToOutgoingContext(ctx, fromAddrKey, d.config.NodeAddress))
	var timedOut atomic.Bool
	timer := time.AfterFunc(d.config.HandshakeTimeout, func() {
		timedOut.Store(true)
		cancel()
	})

	stream, err := conn.NewStream(streamCtx, &serviceDesc.Streams[0], linkMethod)
	var remote string
	if err == nil {
		remote, err = handshake(stream)
	}
	stopped := timer.Stop()

	if err != nil || !stopped {
		cancel()
		_ = conn.Close()
		if err == nil {
			err = errors.New("handshake completed after deadline")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyHandshake(address, err, timedOut.Load())
	}

	if remote != address {
		d.logger.Debug("peer advertises a different address",
			zap.String("dialed", address), zap.String("advertised", remote))
	}

	return link.New(link.Config{
		ID:            address,
		Direction:     linkpkg.Outbound,
		Role:          linkpkg.Node,
		SendQueueSize: d.config.SendQueueSize,
		Logger:        d.logger,
	}, &clientFrames{stream: stream, conn: conn, cancel: cancel}), nil
}

// handshake waits for the accepting node's header. A stream that ends without
// one was rejected; its status says why.
func handshake(stream grpc.ClientStream) (string, error) {
	md, err := stream.Header()
	if err == nil {
		if values := md.Get(nodeAddrKey); len(values) > 0 {
			return values[0], nil
		}
	}
	if err == nil {
		err = stream.RecvMsg(new(wrapperspb.BytesValue))
		if err == nil || errors.Is(err, io.EOF) {
			err = errors.New("stream closed before handshake")
		}
	}
	return "", err
}

func classifyHandshake(address string, err error, timedOut bool) error {
	if timedOut {
		return fmt.Errorf("%w: handshake with %s: %w", linkpkg.ErrTimeout, address, err)
	}
	switch status.Code(err) {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s: %w", linkpkg.ErrRefused, address, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s: %w", linkpkg.ErrTimeout, address, err)
	default:
		return fmt.Errorf("%w: %s: %w", linkpkg.ErrRejected, address, err)
	}
}

// serverFrames adapts the accepting side of a stream. Writes wait for the
// handshake header so it always precedes the first frame.
type serverFrames struct {
	stream    grpc.ServerStream
	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

func newServerFrames(stream grpc.ServerStream) *serverFrames {
	return &serverFrames{
		stream: stream,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (f *serverFrames) markReady() {
	f.readyOnce.Do(func() { close(f.ready) })
}

func (f *serverFrames) ReadFrame() ([]byte, error) {
	msg := new(wrapperspb.BytesValue)
	if err := f.stream.RecvMsg(msg); err != nil {
		return nil, streamError(err)
	}
	return msg.GetValue(), nil
}

func (f *serverFrames) WriteFrame(msg []byte) error {
	select {
	case <-f.ready:
	case <-f.closed:
		return linkpkg.ErrClosed
	}
	if err := f.stream.SendMsg(wrapperspb.Bytes(msg)); err != nil {
		return streamError(err)
	}
	return nil
}

// Close ends the handler, which ends the stream
func (f *serverFrames) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type clientFrames struct {
	stream grpc.ClientStream
	conn   *grpc.ClientConn
	cancel context.CancelFunc
}

func (f *clientFrames) ReadFrame() ([]byte, error) {
	msg := new(wrapperspb.BytesValue)
	if err := f.stream.RecvMsg(msg); err != nil {
		return nil, streamError(err)
	}
	return msg.GetValue(), nil
}

func (f *clientFrames) WriteFrame(msg []byte) error {
	if err := f.stream.SendMsg(wrapperspb.Bytes(msg)); err != nil {
		return streamError(err)
	}
	return nil
}

func (f *clientFrames) Close() error {
	f.cancel()
	return f.conn.Close()
}

// streamError maps a stream failure onto the link's end-of-stream contract.
// A normal end and a peer cancel are clean closes.
func streamError(err error) error {
	if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
		return io.EOF
	}
	return fmt.Errorf("%w: %w", linkpkg.ErrUnexpectedClose, err)
}
