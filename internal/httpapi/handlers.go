package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/link"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/registry"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
	"github.com/rmacdonaldsmith/meshrelay-go/pkg/meshnode"
)

// Handlers contains HTTP request handlers
type Handlers struct {
	meshNode meshnode.MeshNode
	config   Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(meshNode meshnode.MeshNode, config Config) *Handlers {
	return &Handlers{
		meshNode: meshNode,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Leaves are not authenticated; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: config.Logger,
	}
}

// Leaf handles GET /api/ws/leaf: upgrades to a websocket and hands the link to the node
func (h *Handlers) Leaf(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Debug("leaf upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	l := link.NewWebsocket(conn, link.Config{
		ID:            r.RemoteAddr,
		Direction:     linkpkg.Inbound,
		Role:          linkpkg.Leaf,
		SendQueueSize: h.config.SendQueueSize,
		Logger:        h.logger,
	}, link.WebsocketOptions{
		MaxMessageSize: h.config.MaxMessageSize,
		WriteTimeout:   h.config.WriteTimeout,
	})

	if _, err := h.meshNode.AcceptLeaf(l); err != nil {
		h.logger.Info("leaf refused", zap.String("remote", r.RemoteAddr), zap.Error(err))
		_ = l.Close()
	}
}

// Status handles GET /api/v1/status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, h.meshNode.DumpStatus(), http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	health, err := h.meshNode.GetHealth(ctx)
	if err != nil {
		h.writeError(w, "Failed to get health status", http.StatusInternalServerError)
		return
	}

	resp := HealthResponse{
		Healthy:        health.Healthy,
		Self:           h.meshNode.Address(),
		LeafLinks:      health.LeafLinks,
		NodeLinks:      health.NodeLinks,
		ConnectedNodes: health.ConnectedNodes,
		Message:        health.Message,
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, resp, statusCode)
}

// ConnectNode handles POST /api/v1/nodes
func (h *Handlers) ConnectNode(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	err := h.meshNode.ConnectTo(req.Address)
	switch {
	case errors.Is(err, registry.ErrInvalidAddress), errors.Is(err, registry.ErrSelfLink):
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, ConnectResponse{Address: req.Address, Status: "connecting"}, http.StatusAccepted)
}

// DisconnectNode handles DELETE /api/v1/nodes/{address}
func (h *Handlers) DisconnectNode(w http.ResponseWriter, r *http.Request, address string) {
	if err := h.meshNode.Disconnect(address); err != nil {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, ConnectResponse{Address: address, Status: "disconnected"}, http.StatusOK)
}

// Helper methods

// writeError writes an error response as JSON
func (h *Handlers) writeError(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}
	h.writeJSON(w, errorResp, statusCode)
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}
