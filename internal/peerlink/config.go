package peerlink

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for the node-to-node transport
type Config struct {
	// NodeAddress is the advertised address of this node. It is sent to every
	// peer during the handshake and becomes the peer's key for this link.
	NodeAddress       string
	SendQueueSize     int
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	MaxMessageSize    int
	Logger            *zap.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.NodeAddress == "" {
		return errors.New("node address cannot be empty")
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
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024 // 1MB
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// frameOverhead covers the BytesValue tag and length varint around a payload
const frameOverhead = 64

// FrameLimit is the gRPC message size limit that fits a MaxMessageSize payload
func (c *Config) FrameLimit() int {
	return c.MaxMessageSize + frameOverhead
}
