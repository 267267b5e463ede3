package discovery

import (
	"context"
)

// Discovery defines the interface for finding the nodes this node should connect to
type Discovery interface {
	// FindPeers returns the advertised addresses of peer nodes
	FindPeers(ctx context.Context) ([]string, error)
}
