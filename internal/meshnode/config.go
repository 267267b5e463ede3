package meshnode

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/registry"
)

var (
	// ErrEmptyNodeListen is returned when the node endpoint address is empty
	ErrEmptyNodeListen = errors.New("node listen address cannot be empty")
	// ErrEmptyLeafListen is returned when the leaf endpoint address is empty
	ErrEmptyLeafListen = errors.New("leaf listen address cannot be empty")
)

// Config represents configuration for a MeshNode
type Config struct {
	// NodeListen is the address of the gRPC endpoint other nodes connect to.
	// Format: "host:port"; port 0 picks a free port.
	NodeListen string

	// AdvertiseAddress is the node's identity in the mesh, sent to every peer.
	// Defaults to the bound node endpoint address.
	AdvertiseAddress string

	// LeafListen is the address of the HTTP endpoint serving leaves and the status API
	LeafListen string

	// Peers are node addresses dialed at Start
	Peers []string

	SendQueueSize     int
	MaxMessageSize    int
	WriteTimeout      time.Duration
	Backoff           time.Duration
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration

	Logger *zap.Logger
}

// NewConfig creates a new MeshNode configuration with safe defaults
func NewConfig(nodeListen, leafListen string) *Config {
	c := &Config{
		NodeListen: nodeListen,
		LeafListen: leafListen,
	}
	c.SetDefaults()
	return c
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeListen == "" {
		return ErrEmptyNodeListen
	}
	if c.LeafListen == "" {
		return ErrEmptyLeafListen
	}
	if c.AdvertiseAddress != "" {
		if err := registry.ValidateAddress(c.AdvertiseAddress); err != nil {
			return fmt.Errorf("invalid advertise address: %w", err)
		}
	}
	if c.SendQueueSize < 0 {
		return errors.New("send queue size cannot be negative")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 1000
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024 // 1MB
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// WithAdvertiseAddress sets the address announced to peers
func (c *Config) WithAdvertiseAddress(address string) *Config {
	c.AdvertiseAddress = address
	return c
}

// WithPeers sets the seed peers dialed at Start
func (c *Config) WithPeers(peers []string) *Config {
	c.Peers = peers
	return c
}

// WithBackoff sets the wait between outbound connect attempts
func (c *Config) WithBackoff(backoff time.Duration) *Config {
	c.Backoff = backoff
	return c
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger *zap.Logger) *Config {
	c.Logger = logger
	return c
}
