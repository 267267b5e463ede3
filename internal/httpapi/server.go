package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/telemetry"
	"github.com/rmacdonaldsmith/meshrelay-go/pkg/meshnode"
)

// Server represents the leaf endpoint and HTTP API server
type Server struct {
	meshNode   meshnode.MeshNode
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *zap.Logger
}

// Config holds server configuration
type Config struct {
	// Leaf link settings
	SendQueueSize  int
	MaxMessageSize int64
	WriteTimeout   time.Duration

	Logger *zap.Logger
}

// NewServer creates a new HTTP API server
func NewServer(meshNode meshnode.MeshNode, config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	logger := config.Logger.Named("httpapi")
	config.Logger = logger

	server := &Server{
		meshNode:   meshNode,
		handlers:   NewHandlers(meshNode, config),
		middleware: NewMiddleware(logger),
		logger:     logger,
	}

	// Setup HTTP server. No write timeout: upgraded leaf connections manage their own deadlines.
	server.server = &http.Server{
		Handler:           server.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return server
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	err := s.server.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server. Upgraded leaf connections are owned by
// the mesh node and are not affected.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(op string, handler http.HandlerFunc) http.Handler {
		return telemetry.Instrument(op,
			s.middleware.Recovery(
				s.middleware.Logging(
					s.middleware.CORS(
						s.middleware.ContentType(handler)))))
	}

	// Leaf endpoint. Not instrumented: the upgrade needs the raw ResponseWriter.
	mux.Handle("/api/ws/leaf", s.middleware.Recovery(s.middleware.Logging(s.handlers.Leaf)))

	mux.Handle("/api/v1/status", withMiddleware("status", s.handlers.Status))
	mux.Handle("/api/v1/health", withMiddleware("health", s.handlers.Health))
	mux.Handle("/api/v1/nodes", withMiddleware("nodes", s.handleNodes))
	mux.Handle("/api/v1/nodes/", withMiddleware("node", s.handleNodeByAddress))

	mux.Handle("/metrics", telemetry.MetricsHandler())

	// Root endpoint with API info
	mux.Handle("/", withMiddleware("root", s.handleRoot))

	return mux
}

// handleNodes routes node link requests based on HTTP method
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.Status(w, r)
	case http.MethodPost:
		s.handlers.ConnectNode(w, r)
	default:
		s.handlers.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleNodeByAddress handles operations on a single node link
func (s *Server) handleNodeByAddress(w http.ResponseWriter, r *http.Request) {
	escaped := strings.TrimPrefix(r.URL.EscapedPath(), "/api/v1/nodes/")
	address, err := url.PathUnescape(escaped)
	if err != nil || address == "" {
		s.handlers.writeError(w, "Node address required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		s.handlers.DisconnectNode(w, r, address)
	default:
		s.handlers.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.handlers.writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "meshrelay",
		"version":     "1.0.0",
		"description": "Mesh relay node: leaves connect over websocket, nodes link over gRPC",
		"self":        s.meshNode.Address(),
		"endpoints": map[string]interface{}{
			"leaf":   "GET /api/ws/leaf (websocket, one text frame per message)",
			"status": "GET /api/v1/status",
			"health": "GET /api/v1/health",
			"nodes": map[string]string{
				"connect":    "POST /api/v1/nodes",
				"disconnect": "DELETE /api/v1/nodes/{address}",
			},
			"metrics": "GET /metrics",
		},
	}

	s.handlers.writeJSON(w, info, http.StatusOK)
}
