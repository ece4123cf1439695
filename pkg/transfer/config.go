package transfer

import (
	"fmt"
	"time"
)

// Wire-level defaults shared by both peers.
const (
	DefaultChunkSize                  = 64 * 1024         // 64KiB, largest message the browser peer accepts
	DefaultMaxPayloadSize             = 200 * 1024 * 1024 // 200MiB
	DefaultBufferedAmountLowThreshold = 8 * 1024          // 8KiB
	DefaultStallTimeout               = 5 * time.Second

	// MaxChunkSize is the upper bound on a single chunk message.
	MaxChunkSize = 64 * 1024
)

// TransferConfig holds all configuration for the transfer protocol.
type TransferConfig struct {
	ChunkSize                  int           `json:"chunk_size" toml:"chunk_size"`
	MaxPayloadSize             int64         `json:"max_payload_size" toml:"max_payload_size"`
	BufferedAmountLowThreshold uint64        `json:"buffered_amount_low_threshold" toml:"buffered_amount_low_threshold"`
	StallTimeout               time.Duration `json:"stall_timeout" toml:"-"`
}

// DefaultTransferConfig returns the configuration used by the browser implementation.
func DefaultTransferConfig() *TransferConfig {
	return &TransferConfig{
		ChunkSize:                  DefaultChunkSize,
		MaxPayloadSize:             DefaultMaxPayloadSize,
		BufferedAmountLowThreshold: DefaultBufferedAmountLowThreshold,
		StallTimeout:               DefaultStallTimeout,
	}
}

// Validate checks if the configuration values are valid
func (tc *TransferConfig) Validate() error {
	if tc.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfiguration)
	}
	if tc.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk_size cannot be greater than %d", ErrInvalidConfiguration, MaxChunkSize)
	}
	if tc.MaxPayloadSize < 0 {
		return fmt.Errorf("%w: max_payload_size cannot be negative", ErrInvalidConfiguration)
	}
	if tc.BufferedAmountLowThreshold == 0 {
		return fmt.Errorf("%w: buffered_amount_low_threshold must be positive", ErrInvalidConfiguration)
	}
	if tc.StallTimeout <= 0 {
		return fmt.Errorf("%w: stall_timeout must be positive", ErrInvalidConfiguration)
	}
	return nil
}

// orDefault returns cfg, or the defaults when cfg is nil.
func orDefault(cfg *TransferConfig) *TransferConfig {
	if cfg == nil {
		return DefaultTransferConfig()
	}
	return cfg
}
