package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

const (
	MTU uint = 1400

	// DataChannelLabel is the label of the single channel the offering peer creates.
	DataChannelLabel = "data"
)

var (
	ErrNoSignaler         = errors.New("signaler is not configured")
	ErrNoLocalDescription = errors.New("local description is not set")
	ErrConnectionClosed   = errors.New("connection closed")
)

// Config holds the configuration for creating a new Connection.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// APIOption configures the SettingEngine behind a WebRTCAPI.
type APIOption func(*webrtc.SettingEngine)

// WithMulticastDNSMode sets how host candidates are obfuscated and resolved.
func WithMulticastDNSMode(mode ice.MulticastDNSMode) APIOption {
	return func(s *webrtc.SettingEngine) {
		s.SetICEMulticastDNSMode(mode)
	}
}

// WithLoopback includes loopback candidates, for peers on the same host.
func WithLoopback() APIOption {
	return func(s *webrtc.SettingEngine) {
		s.SetIncludeLoopbackCandidate(true)
	}
}

type WebRTCAPI struct {
	api *webrtc.API
}

func NewWebRTCAPI(opts ...APIOption) *WebRTCAPI {
	settings := webrtc.SettingEngine{}
	settings.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	settings.SetReceiveMTU(MTU)
	for _, opt := range opts {
		opt(&settings)
	}

	// Using NewAPI is crucial for managing multiple PeerConnections in one application.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))
	return &WebRTCAPI{
		api: api,
	}
}

// Connection wraps a single WebRTC peer connection and its state.
type Connection struct {
	peerConnection *webrtc.PeerConnection

	mu               sync.Mutex
	isHost           bool
	channel          *DataChannel
	channelReady     chan struct{}
	connectionState  webrtc.PeerConnectionState
	iceState         webrtc.ICEConnectionState
	onPeerConnected  func()
	onPeerLost       func(webrtc.PeerConnectionState)
	onAnswerAccepted func()
	onDataChannel    func(*DataChannel)
}

// NewConnection creates a peer connection. Without ICE servers only host
// candidates are gathered, which is enough on a LAN.
func (a *WebRTCAPI) NewConnection(config Config) (*Connection, error) {
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		err = fmt.Errorf("failed to create peer connection: %w", err)
		slog.Error("NewConnection", "error", err)
		return nil, err
	}

	c := &Connection{
		peerConnection: pc,
		channelReady:   make(chan struct{}),
	}
	pc.OnConnectionStateChange(c.handleConnectionState)
	pc.OnICEConnectionStateChange(c.handleICEState)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		slog.Info("Remote data channel announced", "label", dc.Label())
		c.setChannel(NewDataChannel(dc))
	})
	return c, nil
}

func (c *Connection) handleConnectionState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	c.connectionState = state
	connected, lost := c.onPeerConnected, c.onPeerLost
	c.mu.Unlock()

	slog.Info("Peer connection state changed", "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if connected != nil {
			connected()
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if lost != nil {
			lost(state)
		}
	}
}

func (c *Connection) handleICEState(state webrtc.ICEConnectionState) {
	c.mu.Lock()
	c.iceState = state
	f := c.onAnswerAccepted
	host := c.isHost
	c.mu.Unlock()

	slog.Debug("ICE connection state changed", "state", state.String())
	// The offering side starts checking candidates once the answer is in place.
	if state == webrtc.ICEConnectionStateChecking && host && f != nil {
		f()
	}
}

func (c *Connection) setChannel(dc *DataChannel) {
	c.mu.Lock()
	if c.channel != nil {
		c.mu.Unlock()
		slog.Warn("Ignoring additional data channel", "label", dc.Label())
		_ = dc.Close()
		return
	}
	c.channel = dc
	f := c.onDataChannel
	close(c.channelReady)
	c.mu.Unlock()

	if f != nil {
		f(dc)
	}
}

// CreateOffer makes this side the host: it creates the data channel, sets the
// local offer and waits until ICE gathering is complete so the returned
// description carries every candidate.
func (c *Connection) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.isHost = true
	c.mu.Unlock()

	dc, err := c.peerConnection.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		err = fmt.Errorf("failed to create data channel: %w", err)
		slog.Error("CreateOffer", "error", err)
		return nil, err
	}
	c.setChannel(NewDataChannel(dc))

	offer, err := c.peerConnection.CreateOffer(nil)
	if err != nil {
		err = fmt.Errorf("failed to create offer: %w", err)
		slog.Error("CreateOffer", "error", err)
		return nil, err
	}
	return c.setLocalAndGather(ctx, offer)
}

// CreateAnswer answers a remote offer previously passed to AcceptDescription.
func (c *Connection) CreateAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	answer, err := c.peerConnection.CreateAnswer(nil)
	if err != nil {
		err = fmt.Errorf("failed to create answer: %w", err)
		slog.Error("CreateAnswer", "error", err)
		return nil, err
	}
	return c.setLocalAndGather(ctx, answer)
}

func (c *Connection) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(c.peerConnection)
	if err := c.peerConnection.SetLocalDescription(desc); err != nil {
		err = fmt.Errorf("failed to set local description: %w", err)
		slog.Error("setLocalAndGather", "error", err)
		return nil, err
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, fmt.Errorf("ice gathering interrupted: %w", ctx.Err())
	}
	return c.LocalDescription()
}

// AcceptDescription applies the remote peer's offer or answer.
func (c *Connection) AcceptDescription(desc webrtc.SessionDescription) error {
	if err := c.peerConnection.SetRemoteDescription(desc); err != nil {
		err = fmt.Errorf("failed to set remote description: %w", err)
		slog.Error("AcceptDescription", "error", err)
		return err
	}
	return nil
}

// HandleOfferAndCreateAnswer is called by the answering peer to process an incoming offer.
func (c *Connection) HandleOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.AcceptDescription(offer); err != nil {
		return nil, err
	}
	return c.CreateAnswer(ctx)
}

// Establish runs the offering side of the handshake through signaler.
func (c *Connection) Establish(ctx context.Context, signaler Signaler) error {
	if signaler == nil {
		slog.Error("Establish", "error", ErrNoSignaler)
		return ErrNoSignaler
	}

	offer, err := c.CreateOffer(ctx)
	if err != nil {
		return err
	}
	if err := signaler.SendOffer(ctx, *offer); err != nil {
		err = fmt.Errorf("failed to send offer: %w", err)
		slog.Error("Establish", "error", err)
		return err
	}
	answer, err := signaler.WaitForAnswer(ctx)
	if err != nil {
		err = fmt.Errorf("failed to receive answer: %w", err)
		slog.Error("Establish", "error", err)
		return err
	}
	return c.AcceptDescription(*answer)
}

// LocalDescription returns the local description including gathered candidates.
func (c *Connection) LocalDescription() (*webrtc.SessionDescription, error) {
	desc := c.peerConnection.LocalDescription()
	if desc == nil {
		return nil, ErrNoLocalDescription
	}
	return desc, nil
}

// AddICECandidate is called by both peers to add a candidate received from the other peer.
func (c *Connection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := c.peerConnection.AddICECandidate(candidate); err != nil {
		err = fmt.Errorf("failed to add ice candidate: %w", err)
		slog.Error("AddICECandidate", "error", err)
		return err
	}
	return nil
}

func (c *Connection) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.peerConnection.OnICECandidate(f)
}

// OnPeerConnected registers f to run when the peer connection reaches the connected state.
func (c *Connection) OnPeerConnected(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPeerConnected = f
}

// OnPeerLost registers f to run when the peer connection fails or is closed.
// A disconnected state may still recover and does not trigger it.
func (c *Connection) OnPeerLost(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPeerLost = f
}

// OnAnswerAccepted registers f to run on the offering side when ICE checking starts.
func (c *Connection) OnAnswerAccepted(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAnswerAccepted = f
}

// OnDataChannel registers f to run once the data channel exists. If it already
// exists f runs immediately.
func (c *Connection) OnDataChannel(f func(*DataChannel)) {
	c.mu.Lock()
	c.onDataChannel = f
	dc := c.channel
	c.mu.Unlock()

	if dc != nil && f != nil {
		f(dc)
	}
}

// WaitForDataChannel blocks until the data channel exists and is open.
func (c *Connection) WaitForDataChannel(ctx context.Context) (*DataChannel, error) {
	select {
	case <-c.channelReady:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	dc := c.channel
	c.mu.Unlock()

	if err := dc.WaitOpen(ctx); err != nil {
		return nil, err
	}
	return dc, nil
}

func (c *Connection) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHost
}

func (c *Connection) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionState
}

func (c *Connection) ICEConnectionState() webrtc.ICEConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iceState
}

// Close gracefully shuts down the WebRTC connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	dc := c.channel
	c.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	if c.peerConnection != nil {
		slog.Info("Closing webrtc connection")
		return c.peerConnection.Close()
	}
	return nil
}
