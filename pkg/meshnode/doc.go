// Package meshnode provides interfaces for the mesh relay node.
//
// This package defines the core abstractions for a relay node:
//   - MeshNode: the orchestrator that owns every link and relays messages
//   - Status: the link snapshot served at /api/v1/status
//   - HealthStatus: health monitoring and status reporting
//
// A node accepts leaf clients over websocket and other nodes over gRPC, and dials
// other nodes itself through supervised outbound links that reconnect with backoff.
//
// Relay rules:
//  1. A message from a leaf is echoed to that leaf ("ECHO: " prefix)
//  2. It is forwarded unchanged to every other local leaf
//  3. It is forwarded to every node link, inbound and outbound
//  4. A message from a node link goes to the local leaves only
//
// Rule 4 is the one-hop rule: a message crosses at most one node link, so rings
// and other cyclic topologies never amplify it.
//
// At most one link exists per remote address. When two nodes dial each other at
// the same time, the outbound link of the node with the smaller address is kept.
//
// Example usage:
//
//	node, err := meshnode.New(meshnode.NewConfig("127.0.0.1:8701", "127.0.0.1:8801").
//		WithPeers([]string{"127.0.0.1:8702"}))
//	if err != nil {
//		return err
//	}
//	if err := node.Start(ctx); err != nil {
//		return err
//	}
//	defer node.Close()
//
//	// Link to another node at runtime; repeated calls are no-ops
//	if err := node.ConnectTo("127.0.0.1:8703"); err != nil {
//		return err
//	}
//
//	status := node.DumpStatus()
//	logger.Info("links", zap.Int("leaves", len(status.Leaf)), zap.Int("nodes", len(status.Node)))
package meshnode
