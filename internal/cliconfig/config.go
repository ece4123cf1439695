package cliconfig

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/rescp17/lanrtc/pkg/peer"
	"github.com/rescp17/lanrtc/pkg/receiver"
	"github.com/rescp17/lanrtc/pkg/sender"
	"github.com/rescp17/lanrtc/pkg/transfer"
	lanwebrtc "github.com/rescp17/lanrtc/pkg/webrtc"
)

var ErrInvalidPort = errors.New("port must be between 0 and 65535")

// Config is the resolved command line configuration.
type Config struct {
	ConfigPath string

	// Receiver
	Port           int
	OutDir         string
	Name           string
	ConnectTimeout time.Duration

	// Sender
	Addr            string
	ReceiverID      string
	TransferTimeout time.Duration

	ICEServers []string
	Transfer   transfer.TransferConfig
}

// DefaultConfig returns the configuration used when neither flags nor a file say otherwise.
func DefaultConfig() Config {
	return Config{
		Port:            receiver.DefaultPort,
		OutDir:          ".",
		ConnectTimeout:  receiver.DefaultConnectTimeout,
		TransferTimeout: sender.DefaultTransferTimeout,
		Transfer:        *transfer.DefaultTransferConfig(),
	}
}

// BindFlags registers the shared flags on fs, defaulting to the values in cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ConfigPath, "config", "", "path to a TOML config file (default ~/.lanrtc/config.toml)")
	fs.StringSliceVar(&cfg.ICEServers, "ice-server", cfg.ICEServers, "STUN/TURN server URL, repeatable; none are needed on a LAN")
	fs.IntVar(&cfg.Transfer.ChunkSize, "chunk-size", cfg.Transfer.ChunkSize, "bytes per data channel message")
	fs.Int64Var(&cfg.Transfer.MaxPayloadSize, "max-size", cfg.Transfer.MaxPayloadSize, "largest file accepted, in bytes")
	fs.DurationVar(&cfg.Transfer.StallTimeout, "stall-timeout", cfg.Transfer.StallTimeout, "give up on a transfer after this long without data")
}

// BindReceiverFlags registers the flags of the receive command.
func BindReceiverFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port of the signaling server")
	fs.StringVarP(&cfg.OutDir, "out", "o", cfg.OutDir, "directory received files are written to")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "announced receiver name (default hostname plus id)")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "how long a sender may take to open the data channel")
}

// BindSenderFlags registers the flags of the send command.
func BindSenderFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.Addr, "addr", "a", cfg.Addr, "receiver host:port, skips discovery")
	fs.StringVar(&cfg.ReceiverID, "receiver-id", cfg.ReceiverID, "service id the receiver must have")
	fs.DurationVar(&cfg.TransferTimeout, "transfer-timeout", cfg.TransferTimeout, "upper bound for a whole transfer")
}

// ChangedFlags returns the names of the flags set on the command line.
func ChangedFlags(fs *pflag.FlagSet) map[string]bool {
	changed := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = true
	})
	return changed
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	return c.Transfer.Validate()
}

// PeerConfig returns the configuration for peers created by either command.
func (c *Config) PeerConfig() peer.Config {
	transferConfig := c.Transfer
	cfg := peer.Config{Transfer: &transferConfig}
	if len(c.ICEServers) > 0 {
		cfg.WebRTC = lanwebrtc.Config{
			ICEServers: []webrtc.ICEServer{{URLs: c.ICEServers}},
		}
	}
	return cfg
}

// ReceiverConfig returns the receiver application configuration.
func (c *Config) ReceiverConfig() receiver.Config {
	return receiver.Config{
		Port:           c.Port,
		OutDir:         c.OutDir,
		Name:           c.Name,
		Peer:           c.PeerConfig(),
		ConnectTimeout: c.ConnectTimeout,
	}
}

// SenderConfig returns the sender application configuration.
func (c *Config) SenderConfig() sender.Config {
	return sender.Config{
		Peer:            c.PeerConfig(),
		TransferTimeout: c.TransferTimeout,
	}
}

// configSetter applies file values to flags that were not set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a list if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt64 sets an int64 value if positive and flag not changed.
func (s *configSetter) setInt64(flag string, value int64, dst *int64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}
