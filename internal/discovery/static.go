package discovery

import (
	"context"
	"strings"
)

// StaticDiscovery implements Discovery using a static list of seed nodes
type StaticDiscovery struct {
	seedNodes []string
	self      string
}

// NewStaticDiscovery creates a new static discovery service with the given seed nodes.
// The node's own address is filtered out so a shared seed list can be used by every node.
func NewStaticDiscovery(seedNodes []string, self string) *StaticDiscovery {
	return &StaticDiscovery{
		seedNodes: seedNodes,
		self:      self,
	}
}

// FindPeers returns the seed list trimmed, without blanks, duplicates or self
func (s *StaticDiscovery) FindPeers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(s.seedNodes))
	peers := make([]string, 0, len(s.seedNodes))
	for _, address := range s.seedNodes {
		address = strings.TrimSpace(address)
		if address == "" || address == s.self {
			continue
		}
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}
		peers = append(peers, address)
	}
	return peers, nil
}

// ParseSeeds splits a comma separated seed list, as accepted on the command line
func ParseSeeds(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	return strings.Split(list, ",")
}
