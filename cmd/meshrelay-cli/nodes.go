package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <address>",
		Short: "Link the node to another node",
		Long: `Ask the node to open a supervised link to the node at address (host:port).
Connecting to a node that is already linked is a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := client.Connect(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.Address, resp.Status)
			return nil
		},
	}
}

func newDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <address>",
		Short: "Close the node's link to another node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := client.Disconnect(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: disconnected\n", args[0])
			return nil
		},
	}
}
