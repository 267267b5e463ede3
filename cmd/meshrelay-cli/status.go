package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the node's links",
		Long:  "Show the node's own address, its connected leaves and its node links with their direction",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Self: %s\n", status.Self)
	fmt.Fprintf(out, "Leaves (%d):\n", len(status.Leaf))
	for _, id := range status.Leaf {
		fmt.Fprintf(out, "  %s\n", id)
	}

	addrs := make([]string, 0, len(status.Node))
	for addr := range status.Node {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	fmt.Fprintf(out, "Nodes (%d):\n", len(addrs))
	for _, addr := range addrs {
		fmt.Fprintf(out, "  %-24s %s\n", addr, status.Node[addr])
	}
	return nil
}
