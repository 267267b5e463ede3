package meshclient

import "time"

// Config holds HTTP API client configuration
type Config struct {
	// ServerURL is the base URL of a node's leaf endpoint (e.g., "http://127.0.0.1:8801")
	ServerURL string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Status is a node's link snapshot as served by /api/v1/status
type Status struct {
	Self string            `json:"self"`
	Leaf []string          `json:"leaf"`
	Node map[string]string `json:"node"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy        bool   `json:"healthy"`
	Self           string `json:"self"`
	LeafLinks      int    `json:"leafLinks"`
	NodeLinks      int    `json:"nodeLinks"`
	ConnectedNodes int    `json:"connectedNodes"`
	Message        string `json:"message"`
}

// ConnectRequest asks a node to link to another node
type ConnectRequest struct {
	Address string `json:"address"`
}

// ConnectResponse acknowledges a connect or disconnect request
type ConnectResponse struct {
	Address string `json:"address"`
	Status  string `json:"status"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
