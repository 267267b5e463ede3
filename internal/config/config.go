// Package config loads process configuration for a mesh relay node from a YAML
// file, MESHRELAY_ environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/meshnode"
)

// Config is the root process configuration
type Config struct {
	Node       NodeConfig       `mapstructure:"node"`
	Leaf       LeafConfig       `mapstructure:"leaf"`
	Peers      []string         `mapstructure:"peers"`
	Link       LinkConfig       `mapstructure:"link"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        LogConfig        `mapstructure:"log"`
}

// NodeConfig holds the node endpoint settings
type NodeConfig struct {
	// Listen is the gRPC address other nodes connect to
	Listen string `mapstructure:"listen"`
	// Advertise is the node's identity in the mesh; empty means Listen
	Advertise string `mapstructure:"advertise"`
}

// LeafConfig holds the leaf endpoint settings
type LeafConfig struct {
	Listen string `mapstructure:"listen"`
}

// LinkConfig holds per-link settings shared by leaves and nodes
type LinkConfig struct {
	SendQueueSize  int           `mapstructure:"send_queue_size"`
	MaxMessageSize int           `mapstructure:"max_message_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// SupervisorConfig holds outbound connection settings
type SupervisorConfig struct {
	Backoff          time.Duration `mapstructure:"backoff"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs []string `mapstructure:"outputs"`
	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with the defaults of a standalone node.
func Default() *Config {
	return &Config{
		Node: NodeConfig{Listen: "127.0.0.1:8701"},
		Leaf: LeafConfig{Listen: "127.0.0.1:8801"},
		Link: LinkConfig{
			SendQueueSize:  1000,
			MaxMessageSize: 1024 * 1024,
			WriteTimeout:   10 * time.Second,
		},
		Supervisor: SupervisorConfig{
			Backoff:          time.Second,
			HandshakeTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/meshrelay.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// flagKeys maps command line flag names to configuration keys
var flagKeys = map[string]string{
	"node-listen":    "node.listen",
	"advertise":      "node.advertise",
	"leaf-listen":    "leaf.listen",
	"connect":        "peers",
	"backoff":        "supervisor.backoff",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"queue-size":     "link.send_queue_size",
	"max-message":    "link.max_message_size",
	"write-timeout":  "link.write_timeout",
	"handshake-wait": "supervisor.handshake_timeout",
}

// Load reads configuration from path (if non-empty) or the MESHRELAY_CONFIG
// file, then applies environment overrides and any flags set in flags.
// Environment variables use the prefix MESHRELAY with `.` replaced by `_`.
// Example: MESHRELAY_NODE_LISTEN=0.0.0.0:8701
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MESHRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("node.listen", cfg.Node.Listen)
	v.SetDefault("node.advertise", cfg.Node.Advertise)
	v.SetDefault("leaf.listen", cfg.Leaf.Listen)
	v.SetDefault("peers", []string{})
	v.SetDefault("link.send_queue_size", cfg.Link.SendQueueSize)
	v.SetDefault("link.max_message_size", cfg.Link.MaxMessageSize)
	v.SetDefault("link.write_timeout", cfg.Link.WriteTimeout)
	v.SetDefault("supervisor.backoff", cfg.Supervisor.Backoff)
	v.SetDefault("supervisor.handshake_timeout", cfg.Supervisor.HandshakeTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = os.Getenv("MESHRELAY_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshrelay")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".meshrelay"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	return nil
}

// MeshNode converts the loaded configuration into a mesh node configuration.
// The logger is left unset; callers attach the process logger.
func (c *Config) MeshNode() *meshnode.Config {
	return &meshnode.Config{
		NodeListen:       c.Node.Listen,
		AdvertiseAddress: c.Node.Advertise,
		LeafListen:       c.Leaf.Listen,
		Peers:            c.Peers,
		SendQueueSize:    c.Link.SendQueueSize,
		MaxMessageSize:   c.Link.MaxMessageSize,
		WriteTimeout:     c.Link.WriteTimeout,
		Backoff:          c.Supervisor.Backoff,
		HandshakeTimeout: c.Supervisor.HandshakeTimeout,
	}
}
