package main

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rescp17/lanrtc/internal/cliconfig"
	"github.com/rescp17/lanrtc/internal/util"
	"github.com/rescp17/lanrtc/pkg/discovery"
	"github.com/rescp17/lanrtc/pkg/fileInfo"
	"github.com/rescp17/lanrtc/pkg/receiver"
	"github.com/rescp17/lanrtc/pkg/sender"
	"github.com/rescp17/lanrtc/pkg/ui"
	lanwebrtc "github.com/rescp17/lanrtc/pkg/webrtc"
)

func newReceiveCmd(cfg *cliconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for senders and save the files they send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cliconfig.Resolve(cfg, cmd.Flags()); err != nil {
				return err
			}
			if err := util.EnsureDirectory(cfg.OutDir); err != nil {
				return err
			}

			app := receiver.NewApp(cfg.ReceiverConfig(), &discovery.MDNSAdapter{}, lanwebrtc.NewWebRTCAPI())
			slog.Info("Starting receiver", "port", cfg.Port, "out", cfg.OutDir, "service_id", app.ServiceID())
			return runProgram(ui.NewReceiverModel(app, cfg.OutDir))
		},
	}
	cliconfig.BindReceiverFlags(cmd.Flags(), cfg)
	return cmd
}

func newSendCmd(cfg *cliconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file to a receiver found on the network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cliconfig.Resolve(cfg, cmd.Flags()); err != nil {
				return err
			}
			// Fail before any network activity on unreadable or oversized files
			node, err := fileInfo.CreateNode(args[0])
			if err != nil {
				return err
			}
			if node.Size > cfg.Transfer.MaxPayloadSize {
				return fmt.Errorf("%s is %s, the limit is %s", node.Name,
					util.FormatSize(node.Size), util.FormatSize(cfg.Transfer.MaxPayloadSize))
			}

			var (
				discoverer discovery.Adapter
				target     *discovery.ServiceInfo
			)
			if cfg.Addr != "" {
				service, err := parseReceiverAddr(cfg.Addr, cfg.ReceiverID)
				if err != nil {
					return err
				}
				target = &service
			} else {
				discoverer = &discovery.MDNSAdapter{}
			}

			app := sender.NewApp(cfg.SenderConfig(), discoverer, lanwebrtc.NewWebRTCAPI())
			slog.Info("Starting sender", "file", node.Path, "size", node.Size, "addr", cfg.Addr)
			return runProgram(ui.NewSenderModel(app, node.Path, target))
		},
	}
	cliconfig.BindSenderFlags(cmd.Flags(), cfg)
	return cmd
}

// parseReceiverAddr turns a host:port flag into the receiver it names.
func parseReceiverAddr(addr, id string) (discovery.ServiceInfo, error) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return discovery.ServiceInfo{}, fmt.Errorf("invalid receiver address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return discovery.ServiceInfo{}, fmt.Errorf("invalid receiver port %q", portText)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return discovery.ServiceInfo{}, fmt.Errorf("cannot resolve receiver host %q: %w", host, err)
		}
		ip = ips[0]
	}
	return discovery.ServiceInfo{Name: addr, ID: id, Addr: ip, Port: port}, nil
}

func runProgram(model tea.Model) error {
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	if m, ok := final.(interface{ Err() error }); ok && m.Err() != nil {
		return m.Err()
	}
	return nil
}
