package meshnode

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/registry"
)

// TestConfig_NewConfig tests creating new configuration with defaults
func TestConfig_NewConfig(t *testing.T) {
	config := NewConfig("127.0.0.1:8701", "127.0.0.1:8081")

	if config.NodeListen != "127.0.0.1:8701" {
		t.Errorf("Expected NodeListen '127.0.0.1:8701', got '%s'", config.NodeListen)
	}
	if config.LeafListen != "127.0.0.1:8081" {
		t.Errorf("Expected LeafListen '127.0.0.1:8081', got '%s'", config.LeafListen)
	}
	if config.AdvertiseAddress != "" {
		t.Errorf("Expected empty AdvertiseAddress, got '%s'", config.AdvertiseAddress)
	}
	if config.SendQueueSize != 1000 {
		t.Errorf("Expected SendQueueSize 1000, got %d", config.SendQueueSize)
	}
	if config.Backoff != time.Second {
		t.Errorf("Expected Backoff 1s, got %v", config.Backoff)
	}
	if config.Logger == nil {
		t.Error("Expected default logger to be set")
	}
}

// TestConfig_Validate tests configuration validation
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		wantError bool
		errorType error
	}{
		{
			name:      "valid config",
			config:    NewConfig("127.0.0.1:0", "127.0.0.1:0"),
			wantError: false,
		},
		{
			name:      "empty node listen address",
			config:    NewConfig("", "127.0.0.1:0"),
			wantError: true,
			errorType: ErrEmptyNodeListen,
		},
		{
			name:      "empty leaf listen address",
			config:    NewConfig("127.0.0.1:0", ""),
			wantError: true,
			errorType: ErrEmptyLeafListen,
		},
		{
			name:      "malformed advertise address",
			config:    NewConfig("127.0.0.1:0", "127.0.0.1:0").WithAdvertiseAddress("no-port"),
			wantError: true,
			errorType: registry.ErrInvalidAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError && err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if tt.errorType != nil && !errors.Is(err, tt.errorType) {
				t.Errorf("Expected error %v, got %v", tt.errorType, err)
			}
		})
	}
}

// TestConfig_WithMethods tests the fluent configuration setters
func TestConfig_WithMethods(t *testing.T) {
	logger := zap.NewExample()
	config := NewConfig("127.0.0.1:0", "127.0.0.1:0").
		WithAdvertiseAddress("127.0.0.1:8701").
		WithPeers([]string{"127.0.0.1:8702"}).
		WithBackoff(50 * time.Millisecond).
		WithLogger(logger)

	if config.AdvertiseAddress != "127.0.0.1:8701" {
		t.Errorf("Expected AdvertiseAddress '127.0.0.1:8701', got '%s'", config.AdvertiseAddress)
	}
	if len(config.Peers) != 1 || config.Peers[0] != "127.0.0.1:8702" {
		t.Errorf("Expected one peer '127.0.0.1:8702', got %v", config.Peers)
	}
	if config.Backoff != 50*time.Millisecond {
		t.Errorf("Expected Backoff 50ms, got %v", config.Backoff)
	}
	if config.Logger != logger {
		t.Error("Expected logger to be replaced")
	}
}

// TestNew_InvalidConfig tests that New refuses nil and invalid configs
func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("Expected error for nil config, got nil")
	}
	if _, err := New(NewConfig("", "127.0.0.1:0")); !errors.Is(err, ErrEmptyNodeListen) {
		t.Errorf("Expected ErrEmptyNodeListen, got %v", err)
	}
}
