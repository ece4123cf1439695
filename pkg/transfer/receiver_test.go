package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReceiver(t *testing.T, cfg *TransferConfig) (*Receiver, *receiveRecorder, *fakeClock) {
	t.Helper()
	rec := &receiveRecorder{}
	clock := &fakeClock{}
	r, err := NewReceiver(nil, cfg, rec.callbacks(), WithClock(clock))
	require.NoError(t, err)
	return r, rec, clock
}

func metadataMessage(t *testing.T, meta Metadata) Message {
	t.Helper()
	text, err := EncodeMetadata(meta)
	require.NoError(t, err)
	return TextMessage(text)
}

// feed delivers metadata, then data split into chunks.
func feed(t *testing.T, r *Receiver, name string, data []byte, chunkSize int) Metadata {
	t.Helper()
	meta := Metadata{Name: name, MimeType: "application/octet-stream", Size: uint64(len(data)), CRC32: Checksum(data)}
	r.HandleMessage(metadataMessage(t, meta))
	for _, chunk := range Split(data, chunkSize) {
		r.HandleMessage(BinaryMessage(chunk))
	}
	return meta
}

func TestNewReceiver_SubscribesToChannel(t *testing.T) {
	ch := newMockChannel()
	rec := &receiveRecorder{}
	_, err := NewReceiver(ch, nil, rec.callbacks())
	require.NoError(t, err)

	require.NotNil(t, ch.onMessage)
	assert.Equal(t, uint64(DefaultBufferedAmountLowThreshold), ch.threshold)

	ch.onMessage(metadataMessage(t, Metadata{Name: "x", Size: 0}))
	ch.onMessage(TextMessage(EndOfTransmission))
	assert.Len(t, rec.artifacts, 1)
}

func TestReceiver_CompletesTransfer(t *testing.T) {
	r, rec, clock := newTestReceiver(t, nil)
	data := randomBytes(t, 150000, 21)

	meta := feed(t, r, "big.bin", data, DefaultChunkSize)
	assert.Equal(t, ReceiverReceiving, r.State())
	assert.Equal(t, 150000, r.Received())
	assert.Equal(t, []int{65536, 131072, 150000}, rec.chunks)

	r.HandleMessage(TextMessage(EndOfTransmission))

	require.Len(t, rec.artifacts, 1)
	assert.Equal(t, data, rec.artifacts[0].Data)
	assert.Equal(t, "application/octet-stream", rec.artifacts[0].MimeType)
	assert.Equal(t, meta, rec.metas[0])
	assert.Empty(t, rec.errs)
	assert.Equal(t, ReceiverIdle, r.State())
	assert.Zero(t, r.Received())
	assert.Empty(t, clock.active(), "the stall timer is cancelled on completion")
}

func TestReceiver_EmptyTransfer(t *testing.T) {
	r, rec, clock := newTestReceiver(t, nil)

	r.HandleMessage(metadataMessage(t, Metadata{Name: "empty", MimeType: "text/plain"}))
	r.HandleMessage(TextMessage(EndOfTransmission))

	require.Len(t, rec.artifacts, 1)
	assert.Empty(t, rec.artifacts[0].Data)
	assert.Equal(t, "text/plain", rec.artifacts[0].MimeType)
	assert.Empty(t, rec.errs)
	assert.Empty(t, clock.timers, "no timer is armed without chunks")
}

func TestReceiver_IntegrityFailure(t *testing.T) {
	r, rec, _ := newTestReceiver(t, nil)
	data := randomBytes(t, 1000, 4)
	meta := Metadata{Name: "c.bin", Size: 1000, CRC32: Checksum(data)}

	corrupted := append([]byte(nil), data...)
	corrupted[len(corrupted)-1] ^= 0xFF

	r.HandleMessage(metadataMessage(t, meta))
	r.HandleMessage(BinaryMessage(corrupted))
	r.HandleMessage(TextMessage(EndOfTransmission))

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrIntegrityFailure)
	assert.Empty(t, rec.artifacts, "completion must never fire for a corrupted payload")
	assert.Equal(t, ReceiverIdle, r.State())
}

func TestReceiver_SizeMismatchOnEndOfTransmission(t *testing.T) {
	r, rec, _ := newTestReceiver(t, nil)

	r.HandleMessage(metadataMessage(t, Metadata{Name: "s.bin", Size: 10}))
	r.HandleMessage(BinaryMessage([]byte("short")))
	r.HandleMessage(TextMessage(EndOfTransmission))

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrSizeMismatch)
	assert.Empty(t, rec.artifacts)
	assert.Equal(t, ReceiverIdle, r.State())
}

func TestReceiver_OverflowFailsImmediately(t *testing.T) {
	r, rec, clock := newTestReceiver(t, nil)

	r.HandleMessage(metadataMessage(t, Metadata{Name: "tiny.bin", Size: 10}))
	r.HandleMessage(BinaryMessage([]byte("12345")))
	require.Len(t, clock.active(), 1)

	r.HandleMessage(BinaryMessage(make([]byte, DefaultChunkSize)))

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrSizeMismatch)
	assert.Empty(t, rec.artifacts)
	assert.Equal(t, ReceiverIdle, r.State())
	assert.Zero(t, r.Received())
	assert.Empty(t, clock.active(), "an overflowing transfer must not keep the stall timer armed")

	// Further chunks from the same peer are dropped, not buffered.
	for i := 0; i < 100; i++ {
		r.HandleMessage(BinaryMessage(make([]byte, DefaultChunkSize)))
	}
	assert.Zero(t, r.Received())
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, []int{5}, rec.chunks)
}

func TestReceiver_ExactSizeIsNotOverflow(t *testing.T) {
	r, rec, _ := newTestReceiver(t, nil)
	data := randomBytes(t, 20, 8)

	feed(t, r, "exact.bin", data, 10)
	r.HandleMessage(TextMessage(EndOfTransmission))

	assert.Empty(t, rec.errs)
	require.Len(t, rec.artifacts, 1)
	assert.Equal(t, data, rec.artifacts[0].Data)
}

func TestReceiver_BoundsInitialBuffer(t *testing.T) {
	r, _, _ := newTestReceiver(t, nil)

	r.HandleMessage(metadataMessage(t, Metadata{Name: "large.bin", Size: DefaultMaxPayloadSize}))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, ReceiverReceiving, r.state)
	assert.Equal(t, DefaultChunkSize*initialBufferChunks, cap(r.buf))
}

func TestReceiver_StallFinalizesWithSizeMismatch(t *testing.T) {
	r, rec, clock := newTestReceiver(t, nil)

	r.HandleMessage(metadataMessage(t, Metadata{Name: "stall.bin", Size: 150000}))
	r.HandleMessage(BinaryMessage(make([]byte, 65536)))

	active := clock.active()
	require.Len(t, active, 1)
	assert.Equal(t, DefaultStallTimeout, active[0].d)

	assert.Equal(t, 1, clock.fire())

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrSizeMismatch)
	assert.Empty(t, rec.artifacts)
	assert.Equal(t, ReceiverIdle, r.State())

	// A late sentinel after the stall is ignored.
	r.HandleMessage(TextMessage(EndOfTransmission))
	assert.Len(t, rec.errs, 1)
}

func TestReceiver_StallWithCompleteBufferSucceeds(t *testing.T) {
	r, rec, clock := newTestReceiver(t, nil)
	data := randomBytes(t, 100, 8)

	feed(t, r, "lost-eot.bin", data, DefaultChunkSize)
	assert.Equal(t, 1, clock.fire())

	require.Len(t, rec.artifacts, 1)
	assert.Equal(t, data, rec.artifacts[0].Data)
	assert.Empty(t, rec.errs)
}

func TestReceiver_EachChunkRearmsTimer(t *testing.T) {
	r, _, clock := newTestReceiver(t, nil)

	r.HandleMessage(metadataMessage(t, Metadata{Name: "r.bin", Size: 30}))
	for i := 0; i < 3; i++ {
		r.HandleMessage(BinaryMessage(make([]byte, 10)))
		assert.Len(t, clock.active(), 1, "exactly one stall timer may be armed")
	}
	assert.Len(t, clock.timers, 3)
}

func TestReceiver_SupersededTimerIsInert(t *testing.T) {
	r, rec, clock := newTestReceiver(t, nil)
	data := randomBytes(t, 200, 12)

	// First transfer completes normally; its timer has been stopped.
	feed(t, r, "first.bin", data, 100)
	r.HandleMessage(TextMessage(EndOfTransmission))
	require.Len(t, rec.artifacts, 1)

	// Second transfer is mid-flight when every old timer fires anyway.
	r.HandleMessage(metadataMessage(t, Metadata{Name: "second.bin", Size: 200, CRC32: Checksum(data)}))
	r.HandleMessage(BinaryMessage(data[:100]))
	clock.fireAll()

	// Only the live timer acts, finalizing the short second transfer.
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrSizeMismatch)
	assert.Len(t, rec.artifacts, 1)
}

func TestReceiver_StaleTimerDoesNotFinalizeNextTransfer(t *testing.T) {
	r, rec, clock := newTestReceiver(t, nil)

	r.HandleMessage(metadataMessage(t, Metadata{Name: "a", Size: 20}))
	r.HandleMessage(BinaryMessage(make([]byte, 10)))
	stale := clock.active()
	require.Len(t, stale, 1)

	// New metadata abandons the first transfer.
	r.HandleMessage(metadataMessage(t, Metadata{Name: "b", Size: 20}))
	assert.Empty(t, clock.active())

	stale[0].f()
	assert.Empty(t, rec.errs)
	assert.Equal(t, ReceiverReceiving, r.State())
	assert.Zero(t, r.Received())
}

func TestReceiver_MalformedMetadata(t *testing.T) {
	r, rec, _ := newTestReceiver(t, nil)

	r.HandleMessage(TextMessage("not metadata"))

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrMalformedMetadata)
	assert.Equal(t, ReceiverIdle, r.State())

	// The receiver recovers for the next transfer.
	data := []byte("hello")
	feed(t, r, "ok.txt", data, DefaultChunkSize)
	r.HandleMessage(TextMessage(EndOfTransmission))
	require.Len(t, rec.artifacts, 1)
	assert.Equal(t, data, rec.artifacts[0].Data)
}

func TestReceiver_MalformedMetadataAbandonsActiveTransfer(t *testing.T) {
	r, rec, clock := newTestReceiver(t, nil)

	r.HandleMessage(metadataMessage(t, Metadata{Name: "a", Size: 20}))
	r.HandleMessage(BinaryMessage(make([]byte, 10)))
	r.HandleMessage(TextMessage("{"))

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrMalformedMetadata)
	assert.Equal(t, ReceiverIdle, r.State())
	assert.Empty(t, clock.active())
}

func TestReceiver_RejectsOversizedDeclaration(t *testing.T) {
	cfg := DefaultTransferConfig()
	cfg.MaxPayloadSize = 100
	r, rec, _ := newTestReceiver(t, cfg)

	r.HandleMessage(metadataMessage(t, Metadata{Name: "big", Size: 101}))

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrPayloadTooLarge)
	assert.Equal(t, ReceiverIdle, r.State())

	// Chunks that follow a rejected declaration are dropped.
	r.HandleMessage(BinaryMessage(make([]byte, 101)))
	assert.Zero(t, r.Received())
}

func TestReceiver_IgnoresMessagesWhileIdle(t *testing.T) {
	r, rec, clock := newTestReceiver(t, nil)

	r.HandleMessage(BinaryMessage([]byte("stray")))
	r.HandleMessage(TextMessage(EndOfTransmission))

	assert.Equal(t, ReceiverIdle, r.State())
	assert.Zero(t, r.Received())
	assert.Empty(t, rec.chunks)
	assert.Empty(t, rec.errs)
	assert.Empty(t, rec.artifacts)
	assert.Empty(t, clock.timers)
}

func TestReceiver_ArtifactSurvivesNextTransfer(t *testing.T) {
	r, rec, _ := newTestReceiver(t, nil)
	first := []byte("first payload")
	second := []byte("SECOND")

	feed(t, r, "1", first, 4)
	r.HandleMessage(TextMessage(EndOfTransmission))
	feed(t, r, "2", second, 4)
	r.HandleMessage(TextMessage(EndOfTransmission))

	require.Len(t, rec.artifacts, 2)
	assert.Equal(t, first, rec.artifacts[0].Data)
	assert.Equal(t, second, rec.artifacts[1].Data)
}

func TestReceiverState_String(t *testing.T) {
	assert.Equal(t, "idle", ReceiverIdle.String())
	assert.Equal(t, "receiving", ReceiverReceiving.String())
	assert.Equal(t, "unknown", ReceiverState(42).String())
}
