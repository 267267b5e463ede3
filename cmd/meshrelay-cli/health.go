package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check node health",
		Long:  "Check the health status of the mesh relay node",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	out := cmd.OutOrStdout()
	if health.Healthy {
		fmt.Fprintf(out, "✅ Node %s is healthy\n", health.Self)
	} else {
		fmt.Fprintf(out, "❌ Node %s is not healthy\n", health.Self)
	}
	fmt.Fprintf(out, "Leaf links: %d\n", health.LeafLinks)
	fmt.Fprintf(out, "Node links: %d (%d connected)\n", health.NodeLinks, health.ConnectedNodes)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}
	return nil
}
