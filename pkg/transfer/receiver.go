package transfer

import (
	"fmt"
	"log/slog"
	"sync"
)

// initialBufferChunks bounds the capacity reserved up front from an untrusted
// declared size.
const initialBufferChunks = 16

// Artifact is a completed inbound payload.
type Artifact struct {
	Data     []byte
	MimeType string
}

// ReceiveCallbacks receives the outcome of inbound transfers.
// OnChunk fires after every appended chunk with the bytes received so far;
// the slice must be treated as read-only. Every finished transfer fires
// exactly one of OnComplete or OnError.
type ReceiveCallbacks struct {
	OnChunk    func(received []byte, meta Metadata)
	OnComplete func(artifact Artifact, meta Metadata)
	OnError    func(err error)
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithClock replaces the clock that schedules the stall timer.
func WithClock(clock Clock) ReceiverOption {
	return func(r *Receiver) {
		r.clock = clock
	}
}

// Receiver owns the inbound side of a Channel and reassembles payloads in arrival order.
type Receiver struct {
	config    *TransferConfig
	clock     Clock
	callbacks ReceiveCallbacks

	mu       sync.Mutex
	state    ReceiverState
	meta     Metadata
	buf      []byte
	timer    Timer
	timerGen uint64
}

// NewReceiver creates a Receiver. When ch is non-nil the receiver subscribes
// to its inbound messages; otherwise messages are fed through HandleMessage.
func NewReceiver(ch Channel, cfg *TransferConfig, callbacks ReceiveCallbacks, opts ...ReceiverOption) (*Receiver, error) {
	cfg = orDefault(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Receiver{
		config:    cfg,
		clock:     RealClock,
		callbacks: callbacks,
	}
	for _, opt := range opts {
		opt(r)
	}
	if ch != nil {
		ch.SetBufferedAmountLowThreshold(cfg.BufferedAmountLowThreshold)
		ch.OnMessage(r.HandleMessage)
	}
	return r, nil
}

// State returns the current receiver state.
func (r *Receiver) State() ReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Received returns the number of bytes accumulated for the active transfer.
func (r *Receiver) Received() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// HandleMessage processes one inbound message.
func (r *Receiver) HandleMessage(msg Message) {
	switch {
	case msg.IsEndOfTransmission():
		r.finalize()
	case msg.IsString:
		r.handleMetadata(string(msg.Data))
	default:
		r.handleChunk(msg.Data)
	}
}

func (r *Receiver) handleMetadata(text string) {
	meta, err := DecodeMetadata(text)

	r.mu.Lock()
	if r.state == ReceiverReceiving {
		slog.Warn("Abandoning incomplete transfer", "name", r.meta.Name, "received", len(r.buf), "expected", r.meta.Size)
	}
	r.resetLocked()
	if err == nil && meta.Size > uint64(r.config.MaxPayloadSize) {
		err = fmt.Errorf("%w: %q declares %d bytes, limit is %d", ErrPayloadTooLarge, meta.Name, meta.Size, r.config.MaxPayloadSize)
	}
	if err != nil {
		r.mu.Unlock()
		r.fail(err)
		return
	}
	r.meta = meta
	r.buf = make([]byte, 0, min(meta.Size, uint64(r.config.ChunkSize)*initialBufferChunks))
	r.state = ReceiverReceiving
	r.mu.Unlock()

	slog.Info("Started receiving file", "name", meta.Name, "type", meta.MimeType, "size", meta.Size)
}

func (r *Receiver) handleChunk(data []byte) {
	r.mu.Lock()
	if r.state != ReceiverReceiving {
		r.mu.Unlock()
		slog.Warn("Ignoring chunk received outside of a transfer", "size", len(data))
		return
	}
	if received := uint64(len(r.buf)) + uint64(len(data)); received > r.meta.Size {
		meta := r.meta
		r.resetLocked()
		r.mu.Unlock()
		r.fail(fmt.Errorf("%w: %q expected %d bytes, received at least %d", ErrSizeMismatch, meta.Name, meta.Size, received))
		return
	}
	r.armTimerLocked()
	r.buf = append(r.buf, data...)
	received, meta := r.buf, r.meta
	r.mu.Unlock()

	slog.Debug("Chunk received", "name", meta.Name, "received", len(received), "expected", meta.Size)
	if r.callbacks.OnChunk != nil {
		r.callbacks.OnChunk(received, meta)
	}
}

// armTimerLocked restarts the stall countdown. A superseded timer that still
// fires sees a stale generation and does nothing.
func (r *Receiver) armTimerLocked() {
	r.stopTimerLocked()
	gen := r.timerGen
	r.timer = r.clock.AfterFunc(r.config.StallTimeout, func() {
		r.onStall(gen)
	})
}

func (r *Receiver) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

func (r *Receiver) onStall(gen uint64) {
	r.mu.Lock()
	if gen != r.timerGen || r.state != ReceiverReceiving {
		r.mu.Unlock()
		return
	}
	meta, data := r.takeLocked()
	r.mu.Unlock()

	slog.Warn("No chunk received within the stall timeout, finalizing", "name", meta.Name, "timeout", r.config.StallTimeout)
	r.deliver(meta, data)
}

// finalize handles the end-of-transmission sentinel.
func (r *Receiver) finalize() {
	r.mu.Lock()
	if r.state != ReceiverReceiving {
		r.mu.Unlock()
		slog.Warn("Ignoring end of transmission outside of a transfer")
		return
	}
	meta, data := r.takeLocked()
	r.mu.Unlock()

	r.deliver(meta, data)
}

// takeLocked detaches the active transfer and returns to Idle.
func (r *Receiver) takeLocked() (Metadata, []byte) {
	meta, data := r.meta, r.buf
	r.resetLocked()
	return meta, data
}

// deliver validates a detached payload and reports the outcome.
func (r *Receiver) deliver(meta Metadata, data []byte) {
	if uint64(len(data)) != meta.Size {
		r.fail(fmt.Errorf("%w: %q expected %d bytes, received %d", ErrSizeMismatch, meta.Name, meta.Size, len(data)))
		return
	}
	if sum := Checksum(data); sum != meta.CRC32 {
		r.fail(fmt.Errorf("%w: %q expected crc32 %d, received %d", ErrIntegrityFailure, meta.Name, meta.CRC32, sum))
		return
	}

	slog.Info("File reception completed", "name", meta.Name, "size", meta.Size)
	if r.callbacks.OnComplete != nil {
		r.callbacks.OnComplete(Artifact{Data: data, MimeType: meta.MimeType}, meta)
	}
}

// resetLocked returns to Idle. The buffer is released, not truncated, since
// it may already be owned by a delivered artifact or an OnChunk callee.
func (r *Receiver) resetLocked() {
	r.stopTimerLocked()
	r.state = ReceiverIdle
	r.meta = Metadata{}
	r.buf = nil
}

func (r *Receiver) fail(err error) {
	slog.Error("File reception failed", "error", err)
	if r.callbacks.OnError != nil {
		r.callbacks.OnError(err)
	}
}
