package cliconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Port            int      `toml:"port"`
	OutDir          string   `toml:"out_dir"`
	Name            string   `toml:"name"`
	ConnectTimeout  string   `toml:"connect_timeout"`
	Addr            string   `toml:"addr"`
	ReceiverID      string   `toml:"receiver_id"`
	TransferTimeout string   `toml:"transfer_timeout"`
	ICEServers      []string `toml:"ice_servers"`
	ChunkSize       int      `toml:"chunk_size"`
	MaxPayloadSize  int64    `toml:"max_payload_size"`
	StallTimeout    string   `toml:"stall_timeout"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.lanrtc/config.toml, or "" without a home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".lanrtc", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setInt("port", fc.Port, &cfg.Port)
	s.setString("out", fc.OutDir, &cfg.OutDir)
	s.setString("name", fc.Name, &cfg.Name)
	s.setString("addr", fc.Addr, &cfg.Addr)
	s.setString("receiver-id", fc.ReceiverID, &cfg.ReceiverID)
	s.setStrings("ice-server", fc.ICEServers, &cfg.ICEServers)
	s.setInt("chunk-size", fc.ChunkSize, &cfg.Transfer.ChunkSize)
	s.setInt64("max-size", fc.MaxPayloadSize, &cfg.Transfer.MaxPayloadSize)

	if err := s.setDuration("connect-timeout", fc.ConnectTimeout, &cfg.ConnectTimeout); err != nil {
		return err
	}
	if err := s.setDuration("transfer-timeout", fc.TransferTimeout, &cfg.TransferTimeout); err != nil {
		return err
	}
	if err := s.setDuration("stall-timeout", fc.StallTimeout, &cfg.Transfer.StallTimeout); err != nil {
		return err
	}
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Resolve layers the config file under the flags of fs and validates the
// result. An explicit --config must exist; the default path is optional.
func Resolve(cfg *Config, fs *pflag.FlagSet) error {
	path := cfg.ConfigPath
	if path == "" {
		path = DefaultConfigPath()
		if path == "" || !FileExists(path) {
			return cfg.Validate()
		}
	}

	fc, err := LoadFileConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s not found: %w", path, err)
		}
		return err
	}
	if err := ApplyFileConfig(cfg, fc, ChangedFlags(fs)); err != nil {
		return err
	}
	slog.Info("Loaded config file", "path", path)
	return cfg.Validate()
}
