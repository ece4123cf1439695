package webrtc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/lanrtc/pkg/transfer"
)

// inboundQueueSize bounds the messages read from SCTP but not yet handled.
// When full, the read loop blocks and the remote sender is throttled.
const inboundQueueSize = 256

// DataChannel adapts a pion data channel to transfer.Channel.
//
// pion invokes message and buffered-amount callbacks on its own goroutines.
// DataChannel hands both to a single dispatch goroutine, so handlers never run
// concurrently and may call Send without re-entering the SCTP stack.
type DataChannel struct {
	dc *webrtc.DataChannel

	inbound chan transfer.Message
	low     chan struct{}
	done    chan struct{}
	opened  chan struct{}

	mu        sync.Mutex
	onMessage func(transfer.Message)
	onLow     func()

	startOnce sync.Once
	openOnce  sync.Once
	closeOnce sync.Once
}

var _ transfer.Channel = (*DataChannel)(nil)

// NewDataChannel wraps dc. Inbound messages are queued until OnMessage is
// first called.
func NewDataChannel(dc *webrtc.DataChannel) *DataChannel {
	d := &DataChannel{
		dc:      dc,
		inbound: make(chan transfer.Message, inboundQueueSize),
		low:     make(chan struct{}, 1),
		done:    make(chan struct{}),
		opened:  make(chan struct{}),
	}

	dc.OnOpen(func() {
		slog.Info("Data channel opened", "label", dc.Label())
		d.openOnce.Do(func() { close(d.opened) })
	})
	dc.OnClose(func() {
		slog.Info("Data channel closed", "label", dc.Label())
		d.shutdown()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case d.inbound <- transfer.Message{IsString: msg.IsString, Data: msg.Data}:
		case <-d.done:
		}
	})
	dc.OnBufferedAmountLow(func() {
		// Coalesce: one pending event is enough to send the next chunk.
		select {
		case d.low <- struct{}{}:
		default:
		}
	})
	return d
}

func (d *DataChannel) start() {
	d.startOnce.Do(func() {
		go d.dispatch()
	})
}

func (d *DataChannel) dispatch() {
	for {
		select {
		case msg := <-d.inbound:
			d.mu.Lock()
			f := d.onMessage
			d.mu.Unlock()
			if f == nil {
				slog.Warn("Dropping message without a handler", "label", d.dc.Label(), "size", len(msg.Data))
				continue
			}
			f(msg)
		case <-d.low:
			d.mu.Lock()
			f := d.onLow
			d.mu.Unlock()
			if f != nil {
				f()
			}
		case <-d.done:
			d.drain()
			return
		}
	}
}

// drain hands over messages that were read before the channel closed.
func (d *DataChannel) drain() {
	d.mu.Lock()
	f := d.onMessage
	d.mu.Unlock()
	for {
		select {
		case msg := <-d.inbound:
			if f != nil {
				f(msg)
			}
		default:
			return
		}
	}
}

func (d *DataChannel) Label() string {
	return d.dc.Label()
}

// SendText sends a text message.
func (d *DataChannel) SendText(text string) error {
	return d.dc.SendText(text)
}

// Send sends a binary message.
func (d *DataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

// OnMessage sets the inbound handler and starts dispatching.
func (d *DataChannel) OnMessage(f func(transfer.Message)) {
	d.mu.Lock()
	d.onMessage = f
	d.mu.Unlock()
	d.start()
}

func (d *DataChannel) SetBufferedAmountLowThreshold(threshold uint64) {
	d.dc.SetBufferedAmountLowThreshold(threshold)
}

// OnBufferedAmountLow sets the backpressure handler. nil deregisters it.
// A pending event left over from an earlier handler is discarded, so f only
// runs for buffer drains that happen after it was registered.
func (d *DataChannel) OnBufferedAmountLow(f func()) {
	d.mu.Lock()
	d.onLow = f
	if f != nil {
		select {
		case <-d.low:
		default:
		}
	}
	d.mu.Unlock()
	if f != nil {
		d.start()
	}
}

func (d *DataChannel) BufferedAmount() uint64 {
	return d.dc.BufferedAmount()
}

// IsOpen reports whether the channel finished opening and was not closed.
func (d *DataChannel) IsOpen() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// WaitOpen blocks until the channel is open.
func (d *DataChannel) WaitOpen(ctx context.Context) error {
	select {
	case <-d.opened:
		return nil
	case <-d.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the channel has been closed by either side.
func (d *DataChannel) Done() <-chan struct{} {
	return d.done
}

func (d *DataChannel) shutdown() {
	d.closeOnce.Do(func() { close(d.done) })
}

// Close stops dispatching and closes the underlying channel.
func (d *DataChannel) Close() error {
	d.shutdown()
	return d.dc.Close()
}
