package httpapi

// Request/Response types for the HTTP API

// ConnectRequest asks the node to link to another node
type ConnectRequest struct {
	Address string `json:"address"`
}

// ConnectResponse acknowledges a connect or disconnect request
type ConnectResponse struct {
	Address string `json:"address"`
	Status  string `json:"status"`
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

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
