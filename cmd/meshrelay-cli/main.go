package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshrelay-go/pkg/meshclient"
)

var (
	// Global flags
	serverURL string
	timeout   time.Duration

	// Global client instance
	client *meshclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meshrelay-cli",
		Short: "Mesh relay command line interface",
		Long: `meshrelay-cli talks to a mesh relay node. It can inspect the node's links,
ask it to link to other nodes, and join the mesh as a leaf to send or listen.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8801", "Node leaf endpoint URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newConnectCommand())
	rootCmd.AddCommand(newDisconnectCommand())
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newListenCommand())
	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	var err error
	client, err = meshclient.NewClient(meshclient.Config{
		ServerURL: serverURL,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}
