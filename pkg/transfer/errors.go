package transfer

import "errors"

// Error types for the transfer protocol
var (
	// ErrTransferInProgress is returned when a transfer is started while another one is active
	ErrTransferInProgress = errors.New("transfer already in progress")

	// ErrPayloadTooLarge is returned when a payload exceeds the configured ceiling
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrSizeMismatch is returned when the reassembled length differs from the declared size
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrIntegrityFailure is returned when the reassembled checksum differs from the declared one
	ErrIntegrityFailure = errors.New("integrity check failed")

	// ErrMalformedMetadata is returned when a metadata message cannot be decoded
	ErrMalformedMetadata = errors.New("malformed metadata")

	// ErrTransferCancelled is returned when an outbound transfer is cancelled
	ErrTransferCancelled = errors.New("transfer cancelled")

	// ErrInvalidConfiguration is returned when configuration validation fails
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
