package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/registry"
	"github.com/rmacdonaldsmith/meshrelay-go/pkg/meshclient"
)

// joinLeaf connects a leaf client to the node and waits for the connection
func joinLeaf(ctx context.Context) (*meshclient.Leaf, error) {
	leaf, err := meshclient.NewLeaf(meshclient.LeafConfig{ServerURL: serverURL})
	if err != nil {
		return nil, err
	}
	leaf.Start(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := leaf.WaitConnected(waitCtx); err != nil {
		_ = leaf.Close()
		return nil, fmt.Errorf("failed to join %s: %w", serverURL, err)
	}
	return leaf, nil
}

func newSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>...",
		Short: "Send messages into the mesh as a leaf",
		Long: `Join the node as a leaf, send each argument as one message and wait for
the node to echo every message back.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, args)
		},
	}
}

func runSend(cmd *cobra.Command, messages []string) error {
	leaf, err := joinLeaf(cmd.Context())
	if err != nil {
		return err
	}
	defer leaf.Close()

	out := cmd.OutOrStdout()
	for _, msg := range messages {
		if err := leaf.Send([]byte(msg)); err != nil {
			return fmt.Errorf("failed to send %q: %w", msg, err)
		}
		if err := awaitEcho(leaf, msg); err != nil {
			return err
		}
		fmt.Fprintf(out, "sent: %s\n", msg)
	}
	return nil
}

// awaitEcho reads until the node echoes msg, skipping traffic from other leaves
func awaitEcho(leaf *meshclient.Leaf, msg string) error {
	want := registry.EchoPrefix + msg
	deadline := time.After(timeout)
	for {
		select {
		case got, ok := <-leaf.Messages():
			if !ok {
				return errors.New("connection closed before echo")
			}
			if string(got) == want {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("no echo for %q within %s", msg, timeout)
		}
	}
}

func newListenCommand() *cobra.Command {
	var showEcho bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Join the mesh as a leaf and print every message",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			leaf, err := joinLeaf(ctx)
			if err != nil {
				return err
			}
			defer leaf.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "listening on %s (Ctrl+C to stop)\n", serverURL)
			for msg := range leaf.Messages() {
				text := string(msg)
				if !showEcho && strings.HasPrefix(text, registry.EchoPrefix) {
					continue
				}
				fmt.Fprintln(out, text)
			}
			if err := leaf.Err(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showEcho, "echo", false, "Also print echoes of this leaf's own messages")
	return cmd
}
