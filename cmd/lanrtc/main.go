package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/lanrtc/internal/cliconfig"
	"github.com/rescp17/lanrtc/pkg/discovery"
)

// Set by the release build.
var version = "dev"

func main() {
	f, err := os.OpenFile("debug.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open debug.log: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close log file", "error", err)
		}
	}()
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})))
	discovery.Silence()

	if err := fang.Execute(context.Background(), newRootCmd()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	cmd := &cobra.Command{
		Use:     "lanrtc",
		Short:   "Send files to another machine on the local network over WebRTC",
		Version: version,
	}
	cliconfig.BindFlags(cmd.PersistentFlags(), &cfg)

	cmd.AddCommand(newReceiveCmd(&cfg), newSendCmd(&cfg))
	return cmd
}
