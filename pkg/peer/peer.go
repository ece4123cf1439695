// Package peer ties one WebRTC connection to a transfer Sender and Receiver.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/lanrtc/pkg/fileInfo"
	"github.com/rescp17/lanrtc/pkg/transfer"
	lanwebrtc "github.com/rescp17/lanrtc/pkg/webrtc"
)

// ErrNotReady is returned when a send is attempted before the data channel opened.
var ErrNotReady = errors.New("data channel is not open")

// Callbacks are invoked on pion or dispatch goroutines; they must not block.
type Callbacks struct {
	// AnswerAccepted fires on the offering side once the remote answer is in use.
	AnswerAccepted func()
	// PeerConnected fires when the peer connection is established.
	PeerConnected func()
	// PeerLost fires when the peer connection fails or is closed.
	PeerLost func()
	// TransmissionFinished fires with every verified inbound file.
	TransmissionFinished func(artifact transfer.Artifact, meta transfer.Metadata)
	// ReceivedChunk fires after every inbound chunk with the bytes received so far.
	ReceivedChunk func(received []byte, meta transfer.Metadata)
	// ReceiveError fires when an inbound transfer fails.
	ReceiveError func(err error)
}

// Config holds the connection and transfer settings of a Peer. A nil Transfer
// uses transfer.DefaultTransferConfig.
type Config struct {
	WebRTC   lanwebrtc.Config
	Transfer *transfer.TransferConfig
}

// Peer is one end of a file-sharing session.
type Peer struct {
	conn      *lanwebrtc.Connection
	config    *transfer.TransferConfig
	callbacks Callbacks

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	channel  *lanwebrtc.DataChannel
	sender   *transfer.Sender
	receiver *transfer.Receiver
}

// New creates a peer on api. Call CreateOffer to act as host, or
// AcceptDescription followed by CreateAnswer to join.
func New(api *lanwebrtc.WebRTCAPI, cfg Config, callbacks Callbacks) (*Peer, error) {
	transferConfig := cfg.Transfer
	if transferConfig == nil {
		transferConfig = transfer.DefaultTransferConfig()
	}
	if err := transferConfig.Validate(); err != nil {
		return nil, err
	}

	conn, err := api.NewConnection(cfg.WebRTC)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		conn:      conn,
		config:    transferConfig,
		callbacks: callbacks,
		ready:     make(chan struct{}),
	}
	if callbacks.AnswerAccepted != nil {
		conn.OnAnswerAccepted(callbacks.AnswerAccepted)
	}
	if callbacks.PeerConnected != nil {
		conn.OnPeerConnected(callbacks.PeerConnected)
	}
	conn.OnPeerLost(func(state webrtc.PeerConnectionState) {
		p.abortOutbound(fmt.Errorf("%w: peer connection %s", lanwebrtc.ErrConnectionClosed, state))
		if callbacks.PeerLost != nil {
			callbacks.PeerLost()
		}
	})
	conn.OnDataChannel(p.attach)
	return p, nil
}

// attach binds a Sender and a Receiver to the data channel.
func (p *Peer) attach(dc *lanwebrtc.DataChannel) {
	receiver, err := transfer.NewReceiver(dc, p.config, transfer.ReceiveCallbacks{
		OnChunk:    p.callbacks.ReceivedChunk,
		OnComplete: p.callbacks.TransmissionFinished,
		OnError:    p.callbacks.ReceiveError,
	})
	if err != nil {
		slog.Error("Failed to attach receiver", "error", err)
		return
	}
	sender, err := transfer.NewSender(dc, p.config)
	if err != nil {
		slog.Error("Failed to attach sender", "error", err)
		return
	}

	p.mu.Lock()
	p.channel = dc
	p.sender = sender
	p.receiver = receiver
	p.mu.Unlock()

	go func() {
		if err := dc.WaitOpen(context.Background()); err != nil {
			slog.Warn("Data channel never opened", "error", err)
			return
		}
		p.readyOnce.Do(func() { close(p.ready) })
	}()
	go func() {
		<-dc.Done()
		p.abortOutbound(lanwebrtc.ErrConnectionClosed)
	}()
}

// abortOutbound fails the outbound transfer in flight. Once the channel is
// gone no backpressure-low event will ever resume it.
func (p *Peer) abortOutbound(reason error) {
	p.mu.Lock()
	sender := p.sender
	p.mu.Unlock()
	if sender != nil && sender.Abort(reason) {
		slog.Warn("Outbound transfer aborted", "reason", reason)
	}
}

// CreateOffer makes this peer the host and returns the complete offer.
func (p *Peer) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	return p.conn.CreateOffer(ctx)
}

// CreateAnswer returns the complete answer to an accepted offer.
func (p *Peer) CreateAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	return p.conn.CreateAnswer(ctx)
}

// AcceptDescription applies the remote offer or answer.
func (p *Peer) AcceptDescription(desc webrtc.SessionDescription) error {
	return p.conn.AcceptDescription(desc)
}

// Answer accepts offer and returns the answer, as the joining side does.
func (p *Peer) Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return p.conn.HandleOfferAndCreateAnswer(ctx, offer)
}

// Establish runs the whole host handshake through signaler.
func (p *Peer) Establish(ctx context.Context, signaler lanwebrtc.Signaler) error {
	return p.conn.Establish(ctx, signaler)
}

// LocalDescription returns the complete local offer or answer.
func (p *Peer) LocalDescription() (*webrtc.SessionDescription, error) {
	return p.conn.LocalDescription()
}

// IsHost reports whether this peer created the offer.
func (p *Peer) IsHost() bool {
	return p.conn.IsHost()
}

// IsReady reports whether the data channel is open.
func (p *Peer) IsReady() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the data channel is open.
func (p *Peer) WaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
	}
}

// ConnectionState returns the last observed peer connection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.conn.ConnectionState()
}

// ICEConnectionState returns the last observed ICE connection state.
func (p *Peer) ICEConnectionState() webrtc.ICEConnectionState {
	return p.conn.ICEConnectionState()
}

// Done is closed once the data channel has closed. It blocks forever before
// a channel exists.
func (p *Peer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return nil
	}
	return p.channel.Done()
}

// SendBuffer waits for the data channel and starts sending data.
func (p *Peer) SendBuffer(ctx context.Context, data []byte, name, mimeType string, callbacks transfer.SendCallbacks) (transfer.Metadata, error) {
	if err := p.WaitReady(ctx); err != nil {
		return transfer.Metadata{}, err
	}
	p.mu.Lock()
	sender := p.sender
	p.mu.Unlock()
	return sender.BeginTransfer(data, name, mimeType, callbacks)
}

// SendFile reads the file at path and sends it.
func (p *Peer) SendFile(ctx context.Context, path string, callbacks transfer.SendCallbacks) (transfer.Metadata, error) {
	node, err := fileInfo.CreateNode(path)
	if err != nil {
		return transfer.Metadata{}, err
	}
	data, err := node.ReadPayload(p.config.MaxPayloadSize)
	if err != nil {
		return transfer.Metadata{}, err
	}
	slog.Info("Sending file", "path", path, "size", node.Size, "type", node.MimeType)
	return p.SendBuffer(ctx, data, node.Name, node.MimeType, callbacks)
}

// Cancel aborts the outbound transfer in flight, if any.
func (p *Peer) Cancel() bool {
	p.mu.Lock()
	sender := p.sender
	p.mu.Unlock()
	if sender == nil {
		return false
	}
	return sender.Cancel()
}

// SenderState returns the state of the outbound side.
func (p *Peer) SenderState() transfer.SenderState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sender == nil {
		return transfer.SenderIdle
	}
	return p.sender.State()
}

// ReceiverState returns the state of the inbound side.
func (p *Peer) ReceiverState() transfer.ReceiverState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.receiver == nil {
		return transfer.ReceiverIdle
	}
	return p.receiver.State()
}

// Close cancels any outbound transfer and closes the connection.
func (p *Peer) Close() error {
	p.Cancel()
	return p.conn.Close()
}
