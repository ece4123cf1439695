package transfer

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sendRecorder collects sender callbacks.
type sendRecorder struct {
	mu        sync.Mutex
	progress  []Progress
	completed []Metadata
	errs      []error
}

func (r *sendRecorder) callbacks() SendCallbacks {
	return SendCallbacks{
		OnProgress: func(p Progress) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, p)
		},
		OnComplete: func(meta Metadata) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, meta)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func newTestSender(t *testing.T, cfg *TransferConfig) (*Sender, *mockChannel) {
	t.Helper()
	ch := newMockChannel()
	s, err := NewSender(ch, cfg)
	require.NoError(t, err)
	return s, ch
}

func requireMetadataMessage(t *testing.T, msg Message) Metadata {
	t.Helper()
	require.True(t, msg.IsString, "expected a text message")
	meta, err := DecodeMetadata(string(msg.Data))
	require.NoError(t, err)
	return meta
}

func TestNewSender_ConfiguresThreshold(t *testing.T) {
	_, ch := newTestSender(t, nil)
	assert.Equal(t, uint64(DefaultBufferedAmountLowThreshold), ch.threshold)
}

func TestNewSender_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultTransferConfig()
	cfg.ChunkSize = MaxChunkSize + 1

	_, err := NewSender(newMockChannel(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSender_EmptyPayload(t *testing.T) {
	s, ch := newTestSender(t, nil)
	rec := &sendRecorder{}

	meta, err := s.BeginTransfer(nil, "empty.txt", "text/plain", rec.callbacks())
	require.NoError(t, err)

	msgs := ch.messages()
	require.Len(t, msgs, 2)
	sent := requireMetadataMessage(t, msgs[0])
	assert.Equal(t, uint64(0), sent.Size)
	assert.Equal(t, meta, sent)
	assert.True(t, msgs[1].IsEndOfTransmission())

	assert.Zero(t, ch.registered, "no backpressure handler for an empty payload")
	assert.Equal(t, SenderCompleted, s.State())
	assert.Equal(t, []Metadata{meta}, rec.completed)
	assert.Empty(t, rec.errs)
}

func TestSender_SingleChunkPayload(t *testing.T) {
	s, ch := newTestSender(t, nil)
	rec := &sendRecorder{}
	data := randomBytes(t, 100, 7)

	meta, err := s.BeginTransfer(data, "small.bin", "application/octet-stream", rec.callbacks())
	require.NoError(t, err)

	msgs := ch.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, meta, requireMetadataMessage(t, msgs[0]))
	assert.False(t, msgs[1].IsString)
	assert.Equal(t, data, msgs[1].Data)
	assert.True(t, msgs[2].IsEndOfTransmission())

	assert.Zero(t, ch.registered, "single chunk payloads must not register the backpressure handler")
	assert.False(t, ch.fireLow())
	assert.Equal(t, SenderCompleted, s.State())
	assert.Len(t, rec.completed, 1)
	assert.Equal(t, 100.0, s.Progress().Percent)
}

func TestSender_MultiChunkPacing(t *testing.T) {
	s, ch := newTestSender(t, nil)
	rec := &sendRecorder{}
	data := randomBytes(t, 150000, 11)

	meta, err := s.BeginTransfer(data, "big.bin", "application/octet-stream", rec.callbacks())
	require.NoError(t, err)
	assert.Equal(t, Checksum(data), meta.CRC32)

	// Metadata and the first chunk go out immediately.
	msgs := ch.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, meta, requireMetadataMessage(t, msgs[0]))
	assert.Len(t, msgs[1].Data, 65536)
	assert.Equal(t, SenderPacing, s.State())
	assert.True(t, ch.handlerRegistered())

	require.True(t, ch.fireLow())
	msgs = ch.messages()
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[2].Data, 65536)
	assert.Empty(t, rec.completed)

	// The firing that sends the last chunk also sends the sentinel.
	require.True(t, ch.fireLow())
	msgs = ch.messages()
	require.Len(t, msgs, 5)
	assert.Len(t, msgs[3].Data, 18928)
	assert.True(t, msgs[4].IsEndOfTransmission())
	assert.False(t, ch.handlerRegistered(), "handler must be deregistered after the last chunk")

	// Further events are inert.
	assert.False(t, ch.fireLow())
	assert.Len(t, ch.messages(), 5)

	var reassembled []byte
	for _, msg := range msgs[1:4] {
		reassembled = append(reassembled, msg.Data...)
	}
	assert.Equal(t, data, reassembled)

	assert.Equal(t, SenderCompleted, s.State())
	assert.Equal(t, []Metadata{meta}, rec.completed)
	assert.Empty(t, rec.errs)
}

func TestSender_ProgressIsMonotonicAndEndsAt100(t *testing.T) {
	cfg := DefaultTransferConfig()
	cfg.ChunkSize = 1000
	s, ch := newTestSender(t, cfg)
	rec := &sendRecorder{}

	_, err := s.BeginTransfer(randomBytes(t, 12345, 3), "p.bin", "application/octet-stream", rec.callbacks())
	require.NoError(t, err)
	assert.Equal(t, 12, ch.drain())

	require.Len(t, rec.progress, 12)
	last := 0.0
	var lastBytes uint64
	for _, p := range rec.progress {
		assert.GreaterOrEqual(t, p.Percent, last)
		assert.GreaterOrEqual(t, p.TransmittedBytes, lastBytes)
		assert.Equal(t, uint64(12345), p.TotalBytes)
		last, lastBytes = p.Percent, p.TransmittedBytes
	}
	assert.Equal(t, 100.0, last)
	assert.Equal(t, uint64(12345), lastBytes)
	assert.Len(t, rec.completed, 1)
}

func TestSender_RejectsConcurrentTransfer(t *testing.T) {
	s, ch := newTestSender(t, nil)
	rec := &sendRecorder{}
	data := randomBytes(t, 150000, 5)

	_, err := s.BeginTransfer(data, "first.bin", "", rec.callbacks())
	require.NoError(t, err)
	before := ch.messages()

	second := &sendRecorder{}
	_, err = s.BeginTransfer([]byte("other"), "second.bin", "", second.callbacks())
	assert.ErrorIs(t, err, ErrTransferInProgress)
	assert.Equal(t, before, ch.messages(), "a rejected transfer must not send anything")
	assert.Equal(t, SenderPacing, s.State())

	ch.drain()
	assert.Len(t, rec.completed, 1)
	assert.Empty(t, second.completed)
	assert.Empty(t, second.errs)

	var reassembled []byte
	for _, msg := range ch.messages() {
		if !msg.IsString {
			reassembled = append(reassembled, msg.Data...)
		}
	}
	assert.Equal(t, data, reassembled)
}

func TestSender_AllowsNewTransferAfterCompletion(t *testing.T) {
	s, ch := newTestSender(t, nil)

	_, err := s.BeginTransfer([]byte("one"), "1.txt", "text/plain", SendCallbacks{})
	require.NoError(t, err)
	_, err = s.BeginTransfer([]byte("two"), "2.txt", "text/plain", SendCallbacks{})
	require.NoError(t, err)

	assert.Len(t, ch.messages(), 6)
}

func TestSender_RejectsOversizedPayload(t *testing.T) {
	cfg := DefaultTransferConfig()
	cfg.MaxPayloadSize = 1024
	s, ch := newTestSender(t, cfg)

	_, err := s.BeginTransfer(make([]byte, 1025), "huge.bin", "", SendCallbacks{})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, ch.messages(), "no metadata may be sent for a rejected payload")
	assert.Equal(t, SenderIdle, s.State())

	// The guard is released, so a payload at the limit goes through.
	_, err = s.BeginTransfer(make([]byte, 1024), "limit.bin", "", SendCallbacks{})
	assert.NoError(t, err)
}

func TestSender_RejectsPayloadAboveDefaultCeiling(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates more than 200MiB")
	}
	s, ch := newTestSender(t, nil)

	_, err := s.BeginTransfer(make([]byte, DefaultMaxPayloadSize+1), "huge.bin", "", SendCallbacks{})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, ch.messages())
}

func TestSender_SniffsMissingMimeType(t *testing.T) {
	s, ch := newTestSender(t, nil)

	meta, err := s.BeginTransfer([]byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), "doc", "", SendCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", meta.MimeType)
	assert.Equal(t, "application/pdf", requireMetadataMessage(t, ch.messages()[0]).MimeType)
}

func TestSender_Cancel(t *testing.T) {
	s, ch := newTestSender(t, nil)
	rec := &sendRecorder{}

	assert.False(t, s.Cancel(), "nothing to cancel while idle")

	_, err := s.BeginTransfer(randomBytes(t, 150000, 9), "c.bin", "", rec.callbacks())
	require.NoError(t, err)
	require.True(t, s.Cancel())

	assert.Equal(t, SenderIdle, s.State())
	assert.False(t, ch.handlerRegistered())
	assert.False(t, ch.fireLow())
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrTransferCancelled)
	assert.Empty(t, rec.completed)
	for _, msg := range ch.messages() {
		assert.False(t, msg.IsEndOfTransmission(), "a cancelled transfer never sends the sentinel")
	}

	_, err = s.BeginTransfer([]byte("after"), "a.txt", "text/plain", SendCallbacks{})
	assert.NoError(t, err)
}

func TestSender_AbortReportsReason(t *testing.T) {
	s, ch := newTestSender(t, nil)
	rec := &sendRecorder{}
	lost := errors.New("channel closed")

	assert.False(t, s.Abort(lost))

	_, err := s.BeginTransfer(randomBytes(t, 150000, 10), "lost.bin", "", rec.callbacks())
	require.NoError(t, err)
	require.Equal(t, SenderPacing, s.State())

	require.True(t, s.Abort(lost))
	assert.False(t, s.Abort(lost), "a second abort is a no-op")

	assert.Equal(t, SenderIdle, s.State())
	assert.False(t, ch.handlerRegistered())
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], lost)
	assert.Empty(t, rec.completed)
}

func TestSender_SendFailures(t *testing.T) {
	testCases := []struct {
		name       string
		size       int
		failSendAt int
		fires      int
		wantReturn bool
	}{
		{"Metadata", 150000, 1, 0, true},
		{"First chunk", 150000, 2, 0, true},
		{"Sentinel after single chunk", 100, 3, 0, true},
		{"Paced chunk", 150000, 3, 1, false},
		{"Sentinel after paced chunks", 150000, 5, 2, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, ch := newTestSender(t, nil)
			ch.failSendAt = tc.failSendAt
			rec := &sendRecorder{}

			_, err := s.BeginTransfer(randomBytes(t, tc.size, 1), "f.bin", "", rec.callbacks())
			if tc.wantReturn {
				assert.ErrorIs(t, err, errMockSend)
				assert.Empty(t, rec.errs, "errors returned directly must not also fire OnError")
			} else {
				require.NoError(t, err)
				for i := 0; i < tc.fires; i++ {
					require.True(t, ch.fireLow())
				}
				require.Len(t, rec.errs, 1)
				assert.True(t, errors.Is(rec.errs[0], errMockSend))
			}

			assert.Empty(t, rec.completed)
			assert.Equal(t, SenderIdle, s.State())
			assert.False(t, ch.handlerRegistered())

			ch.failSendAt = 0
			_, err = s.BeginTransfer([]byte("retry"), "r.txt", "text/plain", SendCallbacks{})
			assert.NoError(t, err, "a failed transfer must not block the next one")
		})
	}
}

func TestSenderState_String(t *testing.T) {
	assert.Equal(t, "idle", SenderIdle.String())
	assert.Equal(t, "pacing", SenderPacing.String())
	assert.True(t, SenderArmed.IsActive())
	assert.True(t, SenderPacing.IsActive())
	assert.False(t, SenderCompleted.IsActive())
	assert.False(t, SenderIdle.IsActive())
}
