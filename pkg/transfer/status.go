package transfer

import "math"

// SenderState is the phase of the outbound side of a channel.
type SenderState int

const (
	// SenderIdle indicates no transfer has been started
	SenderIdle SenderState = iota
	// SenderArmed indicates metadata was sent and chunks are being prepared
	SenderArmed
	// SenderPacing indicates chunks are sent on backpressure-low events
	SenderPacing
	// SenderCompleted indicates the last transfer finished and the sentinel was sent
	SenderCompleted
)

// String returns a human-readable string representation of the sender state
func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "idle"
	case SenderArmed:
		return "armed"
	case SenderPacing:
		return "pacing"
	case SenderCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// IsActive reports whether a transfer is in flight.
func (s SenderState) IsActive() bool {
	return s == SenderArmed || s == SenderPacing
}

// ReceiverState is the phase of the inbound side of a channel.
type ReceiverState int

const (
	// ReceiverIdle indicates no metadata is active
	ReceiverIdle ReceiverState = iota
	// ReceiverReceiving indicates chunks are being accumulated
	ReceiverReceiving
)

// String returns a human-readable string representation of the receiver state
func (s ReceiverState) String() string {
	switch s {
	case ReceiverIdle:
		return "idle"
	case ReceiverReceiving:
		return "receiving"
	default:
		return "unknown"
	}
}

// Progress is reported to the sender's progress callback after every paced chunk.
type Progress struct {
	TotalBytes       uint64  `json:"total_bytes"`
	TransmittedBytes uint64  `json:"transmitted_bytes"`
	Percent          float64 `json:"progress"`
}

func newProgress(total, transmitted uint64) Progress {
	return Progress{
		TotalBytes:       total,
		TransmittedBytes: transmitted,
		Percent:          percentOf(transmitted, total),
	}
}

// percentOf returns transmitted/total as a percentage rounded to two decimals.
func percentOf(transmitted, total uint64) float64 {
	if total == 0 {
		return 100
	}
	if transmitted >= total {
		return 100
	}
	return math.Round(float64(transmitted)/float64(total)*10000) / 100
}
