package transfer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/rescp17/lanrtc/pkg/concurrency"
)

// SendCallbacks receives the outcome of an outbound transfer.
// OnProgress fires once per paced chunk, OnComplete once after the sentinel
// was sent, OnError once if the transfer failed or was cancelled after
// BeginTransfer returned.
type SendCallbacks struct {
	OnProgress func(Progress)
	OnComplete func(Metadata)
	OnError    func(error)
}

// Sender owns the outbound side of a Channel. At most one transfer is in flight at a time.
//
// The Channel must not invoke the backpressure handler synchronously from Send.
type Sender struct {
	channel Channel
	config  *TransferConfig
	guard   *concurrency.ConcurrencyGuard

	mu        sync.Mutex
	state     SenderState
	meta      Metadata
	chunks    [][]byte
	next      int
	sent      uint64
	progress  Progress
	callbacks SendCallbacks
}

// NewSender creates a Sender on ch and configures the channel's backpressure threshold.
func NewSender(ch Channel, cfg *TransferConfig) (*Sender, error) {
	cfg = orDefault(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ch.SetBufferedAmountLowThreshold(cfg.BufferedAmountLowThreshold)
	return &Sender{
		channel: ch,
		config:  cfg,
		guard:   concurrency.NewConcurrencyGuard(),
	}, nil
}

// State returns the current sender state.
func (s *Sender) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the progress of the current or last transfer.
func (s *Sender) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// BeginTransfer sends data as one transfer: metadata, chunks, then the sentinel.
//
// Errors that happen before BeginTransfer returns are returned directly and
// no callback fires. ErrTransferInProgress and ErrPayloadTooLarge leave all
// state untouched and send nothing. An empty mimeType is filled by sniffing data.
//
// Payloads that fit in one chunk complete before BeginTransfer returns. Larger
// payloads are paced by the channel's backpressure-low events.
func (s *Sender) BeginTransfer(data []byte, name, mimeType string, callbacks SendCallbacks) (Metadata, error) {
	if !s.guard.TryAcquire() {
		return Metadata{}, ErrTransferInProgress
	}
	if int64(len(data)) > s.config.MaxPayloadSize {
		s.guard.Release()
		return Metadata{}, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrPayloadTooLarge, len(data), s.config.MaxPayloadSize)
	}

	if mimeType == "" {
		mimeType = DetectMimeType(data)
	}
	meta := Metadata{
		Name:     name,
		MimeType: mimeType,
		Size:     uint64(len(data)),
		CRC32:    Checksum(data),
	}
	text, err := EncodeMetadata(meta)
	if err != nil {
		s.guard.Release()
		return Metadata{}, err
	}

	s.mu.Lock()
	s.state = SenderArmed
	s.meta = meta
	s.chunks = Split(data, s.config.ChunkSize)
	s.next = 0
	s.sent = 0
	s.progress = newProgress(meta.Size, 0)
	s.callbacks = callbacks

	slog.Info("Starting transfer", "name", meta.Name, "size", meta.Size, "chunks", len(s.chunks), "crc32", meta.CRC32)

	if err := s.channel.SendText(text); err != nil {
		s.teardownLocked(SenderIdle)
		s.mu.Unlock()
		return meta, fmt.Errorf("failed to send metadata: %w", err)
	}

	if len(s.chunks) > 1 {
		s.state = SenderPacing
		s.channel.OnBufferedAmountLow(s.onBufferedAmountLow)
		if err := s.sendChunkLocked(); err != nil {
			s.teardownLocked(SenderIdle)
			s.mu.Unlock()
			return meta, err
		}
		s.mu.Unlock()
		return meta, nil
	}

	// Zero or one chunk: no pacing needed.
	if len(s.chunks) == 1 {
		if err := s.sendChunkLocked(); err != nil {
			s.teardownLocked(SenderIdle)
			s.mu.Unlock()
			return meta, err
		}
	}
	if err := s.finishLocked(); err != nil {
		s.mu.Unlock()
		return meta, err
	}
	onComplete := callbacks.OnComplete
	s.mu.Unlock()

	if onComplete != nil {
		onComplete(meta)
	}
	return meta, nil
}

// Cancel aborts the transfer in flight without sending the sentinel.
// It reports false if nothing was in flight.
func (s *Sender) Cancel() bool {
	return s.Abort(ErrTransferCancelled)
}

// Abort stops the transfer in flight and reports err through OnError. The
// sentinel is not sent. It reports false if nothing was in flight.
func (s *Sender) Abort(err error) bool {
	s.mu.Lock()
	if !s.state.IsActive() {
		s.mu.Unlock()
		return false
	}
	onError := s.callbacks.OnError
	name := s.meta.Name
	s.teardownLocked(SenderIdle)
	s.mu.Unlock()

	slog.Info("Transfer aborted", "name", name, "reason", err)
	if onError != nil {
		onError(err)
	}
	return true
}

// onBufferedAmountLow sends the next chunk. The call that sends the last
// chunk also sends the sentinel.
func (s *Sender) onBufferedAmountLow() {
	s.mu.Lock()
	if s.state != SenderPacing {
		s.mu.Unlock()
		return
	}

	callbacks := s.callbacks
	if err := s.sendChunkLocked(); err != nil {
		slog.Error("Transfer failed", "name", s.meta.Name, "error", err)
		s.teardownLocked(SenderIdle)
		s.mu.Unlock()
		if callbacks.OnError != nil {
			callbacks.OnError(err)
		}
		return
	}
	progress := s.progress
	meta := s.meta

	var finishErr error
	done := s.next >= len(s.chunks)
	if done {
		finishErr = s.finishLocked()
	}
	s.mu.Unlock()

	if callbacks.OnProgress != nil {
		callbacks.OnProgress(progress)
	}
	switch {
	case done && finishErr != nil:
		if callbacks.OnError != nil {
			callbacks.OnError(finishErr)
		}
	case done:
		if callbacks.OnComplete != nil {
			callbacks.OnComplete(meta)
		}
	}
}

func (s *Sender) sendChunkLocked() error {
	chunk := s.chunks[s.next]
	if err := s.channel.Send(chunk); err != nil {
		return fmt.Errorf("failed to send chunk %d/%d: %w", s.next+1, len(s.chunks), err)
	}
	s.next++
	s.sent += uint64(len(chunk))
	s.progress = newProgress(s.meta.Size, s.sent)
	slog.Debug("Chunk sent", "name", s.meta.Name, "chunk", s.next, "of", len(s.chunks), "progress", s.progress.Percent)
	return nil
}

// finishLocked deregisters the pacing handler and sends the sentinel.
func (s *Sender) finishLocked() error {
	s.releaseHandlerLocked()
	if err := s.channel.SendText(EndOfTransmission); err != nil {
		slog.Error("Failed to send end of transmission", "name", s.meta.Name, "error", err)
		s.teardownLocked(SenderIdle)
		return fmt.Errorf("failed to send end of transmission: %w", err)
	}
	slog.Info("Transfer complete", "name", s.meta.Name, "size", s.meta.Size)
	s.teardownLocked(SenderCompleted)
	return nil
}

func (s *Sender) releaseHandlerLocked() {
	if s.state == SenderPacing {
		s.channel.OnBufferedAmountLow(nil)
		s.state = SenderArmed
	}
}

func (s *Sender) teardownLocked(next SenderState) {
	s.releaseHandlerLocked()
	s.state = next
	s.chunks = nil
	s.next = 0
	s.callbacks = SendCallbacks{}
	s.guard.Release()
}
