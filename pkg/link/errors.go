package link

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrClosed is returned by Send once the link is closing or closed
	ErrClosed = errors.New("link closed")
	// ErrQueueFull is returned by Send when the link's send queue is full
	ErrQueueFull = errors.New("link send queue full")
	// ErrRefused marks a connect attempt the remote end did not accept at the transport level
	ErrRefused = errors.New("connection refused")
	// ErrTimeout marks a connect attempt or handshake that did not complete in time
	ErrTimeout = errors.New("connection timeout")
	// ErrRejected marks a connection the remote mesh node accepted and then turned down
	ErrRejected = errors.New("connection rejected")
	// ErrUnexpectedClose marks a stream that ended without a clean close
	ErrUnexpectedClose = errors.New("unexpected close")
)

// FailureKind classifies connection errors for logging, metrics and retry decisions
type FailureKind string

const (
	FailureNone            FailureKind = "closed"
	FailureRefused         FailureKind = "connection-refused"
	FailureTimeout         FailureKind = "timeout"
	FailureRejected        FailureKind = "rejected"
	FailureUnexpectedClose FailureKind = "unexpected-close"
)

// Classify maps an error returned by a dial or by Recv onto a FailureKind.
// A nil error, io.EOF and ErrClosed are clean closes.
func Classify(err error) FailureKind {
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, ErrClosed):
		return FailureNone
	case errors.Is(err, ErrRefused), errors.Is(err, syscall.ECONNREFUSED):
		return FailureRefused
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrRejected):
		return FailureRejected
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureUnexpectedClose
}
