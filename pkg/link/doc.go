// Package link defines the connection abstraction shared by every part of the mesh relay.
//
// This package defines the core abstractions for a single mesh connection:
//   - Link: one bidirectional connection (inbound or outbound) carrying opaque text frames
//   - Direction: whether the connection was accepted or initiated by this process
//   - Role: whether the remote end is a leaf client or another mesh node
//   - State: the connection lifecycle (Connecting, Connected, Closing, Closed)
//   - FailureKind: the classification of connection errors used by supervisors and metrics
//
// End of stream is signalled through the receive loop only: Recv returns io.EOF once the
// remote end closed cleanly or the link was closed locally, and any other error for an
// unexpected close. Owners never register close callbacks; they read until Recv fails.
//
// Example usage:
//
//	for {
//		msg, err := l.Recv()
//		if err != nil {
//			if link.Classify(err) != link.FailureNone {
//				logger.Warn("link dropped", zap.Error(err))
//			}
//			break
//		}
//		handle(msg)
//	}
//	_ = l.Close()
//
// Send never blocks on the network. Messages are queued per link and written by the
// link's own writer, so a slow peer costs a dropped message (ErrQueueFull), not a stalled relay.
package link
