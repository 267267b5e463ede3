package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/config"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/meshnode"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/observability"
	"github.com/rmacdonaldsmith/meshrelay-go/internal/telemetry"
)

const (
	appName    = "meshrelay"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

// gitSHA is set at build time with -ldflags "-X main.gitSHA=..."
var gitSHA = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Run a mesh relay node",
		Long: `meshrelay runs one node of a relay mesh. Leaves connect over a websocket
and every message a leaf sends is echoed back to it, delivered to the other
leaves of the node and forwarded one hop to every linked node.`,
		Version:       fmt.Sprintf("%s (%s)", appVersion, gitSHA),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}

			logger, err := observability.SetupLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, nil)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to YAML config file")
	flags.String("node-listen", "127.0.0.1:8701", "Listen address for node links (gRPC)")
	flags.String("advertise", "", "Address announced to other nodes (default: the node listen address)")
	flags.String("leaf-listen", "127.0.0.1:8801", "Listen address for leaves and the HTTP API")
	flags.StringSlice("connect", nil, "Node address to link to at startup (repeatable)")
	flags.Duration("backoff", time.Second, "Wait between outbound connect attempts")
	flags.Duration("handshake-wait", 5*time.Second, "Timeout for the node link handshake")
	flags.Int("queue-size", 1000, "Per-link send queue size")
	flags.Int("max-message", 1024*1024, "Maximum message size in bytes")
	flags.Duration("write-timeout", 10*time.Second, "Per-frame write timeout for leaves")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "console", "Log format: console or json")

	return cmd
}

// serve runs a node until ctx is done, then shuts it down. ready, when set, is
// called once the node is listening.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, ready func(*meshnode.Node)) error {
	nodeConfig := cfg.MeshNode().WithLogger(logger)
	node, err := meshnode.New(nodeConfig)
	if err != nil {
		return fmt.Errorf("failed to create mesh node: %w", err)
	}

	telemetry.SetBuildInfo(appVersion, gitSHA)

	if err := node.Start(ctx); err != nil {
		_ = node.Close()
		return fmt.Errorf("failed to start mesh node: %w", err)
	}
	logger.Info("meshrelay started",
		zap.String("version", appVersion),
		zap.String("self", node.Address()),
		zap.String("leaf_addr", node.LeafAddress()),
		zap.Strings("peers", cfg.Peers))
	if ready != nil {
		ready(node)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := node.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("meshrelay stopped")
	return nil
}
