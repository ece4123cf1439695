package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/lanrtc/api"
	appevents "github.com/rescp17/lanrtc/internal/app_events"
	"github.com/rescp17/lanrtc/internal/app_events/receiver"
	"github.com/rescp17/lanrtc/pkg/discovery"
	"github.com/rescp17/lanrtc/pkg/fileInfo"
	"github.com/rescp17/lanrtc/pkg/peer"
	"github.com/rescp17/lanrtc/pkg/transfer"
	lanwebrtc "github.com/rescp17/lanrtc/pkg/webrtc"
)

const (
	DefaultPort           = 8080
	DefaultConnectTimeout = 30 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// Config configures the receiver application.
type Config struct {
	// Port the signaling server listens on. Zero picks a free port.
	Port int
	// OutDir is where received files are written.
	OutDir string
	// Name is the announced instance name. It defaults to the hostname plus
	// a short service ID.
	Name string
	Peer peer.Config
	// ConnectTimeout bounds the time between answering an offer and the data
	// channel opening.
	ConnectTimeout time.Duration
}

// App is the main application logic controller for the receiver.
type App struct {
	serviceID  string
	config     Config
	registrar  discovery.Adapter
	webrtcAPI  *lanwebrtc.WebRTCAPI
	api        *api.API
	uiMessages chan tea.Msg
	appEvents  chan appevents.AppEvent

	mu         sync.Mutex
	runCtx     context.Context
	activePeer *peer.Peer
}

// NewApp creates a new receiver application instance. A nil registrar
// disables the mDNS announcement.
func NewApp(cfg Config, registrar discovery.Adapter, webrtcAPI *lanwebrtc.WebRTCAPI) *App {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "."
	}
	a := &App{
		serviceID:  uuid.New().String(),
		config:     cfg,
		registrar:  registrar,
		webrtcAPI:  webrtcAPI,
		uiMessages: make(chan tea.Msg, 64),
		appEvents:  make(chan appevents.AppEvent),
		runCtx:     context.Background(),
	}
	a.api = api.NewAPI(a.serviceID, a.handleOffer)
	return a
}

// ServiceID is the identifier announced over mDNS and expected in signaling requests.
func (a *App) ServiceID() string {
	return a.serviceID
}

func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// Run serves offers and announces the receiver until ctx is done.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		a.sendAndLogError(ctx, "Failed to start signaling server", err)
		return err
	}
	port := listener.Addr().(*net.TCPAddr).Port

	g, ctx := errgroup.WithContext(ctx)
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	g.Go(func() error {
		return a.serve(ctx, listener)
	})
	name := a.instanceName()
	if a.registrar != nil {
		g.Go(func() error {
			return a.announce(ctx, name, port)
		})
	}
	g.Go(func() error {
		a.send(ctx, receiver.ListeningMsg{Name: name, Port: port})
		for {
			select {
			case <-ctx.Done():
				return nil
			case event := <-a.appEvents:
				switch event.(type) {
				case receiver.DropSessionMsg:
					a.closeActivePeer()
				default:
					slog.Warn("Received unhandled app event", "event", event)
				}
			}
		}
	})

	err = g.Wait()
	a.closeActivePeer()
	return err
}

func (a *App) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	hostname, err := os.Hostname()
	if err != nil {
		slog.Warn("Could not get hostname", "error", err)
		hostname = "lanrtc"
	}
	return fmt.Sprintf("%s-%s", hostname, a.serviceID[:8])
}

func (a *App) announce(ctx context.Context, name string, port int) error {
	serviceInfo := discovery.ServiceInfo{
		Name:   name,
		Type:   discovery.DefaultServiceType,
		Domain: discovery.DefaultDomain,
		ID:     a.serviceID,
		Port:   port,
	}
	if err := a.registrar.Announce(ctx, serviceInfo); err != nil {
		a.sendAndLogError(ctx, "Failed to start mDNS announcement", err)
		return err
	}
	return nil
}

func (a *App) serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           a.api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Signaling server listening", "addr", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.sendAndLogError(ctx, "HTTP server failed", err)
		return err
	}
	return nil
}

// handleOffer answers one sender and keeps the session open until the file
// arrived, the sender went away or the data channel never opened.
func (a *App) handleOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, <-chan struct{}, error) {
	a.mu.Lock()
	runCtx := a.runCtx
	a.mu.Unlock()

	finished := make(chan struct{})
	var finishOnce sync.Once
	finish := func() { finishOnce.Do(func() { close(finished) }) }

	p, err := peer.New(a.webrtcAPI, a.config.Peer, peer.Callbacks{
		PeerConnected: func() {
			a.send(runCtx, receiver.PeerConnectedMsg{})
		},
		PeerLost: finish,
		ReceivedChunk: func(received []byte, meta transfer.Metadata) {
			a.tryNotify(receiver.ChunkReceivedMsg{Meta: meta, Received: uint64(len(received))})
		},
		TransmissionFinished: func(artifact transfer.Artifact, meta transfer.Metadata) {
			defer finish()
			a.save(runCtx, artifact, meta)
		},
		ReceiveError: func(err error) {
			defer finish()
			a.sendAndLogError(runCtx, "Receive failed", err)
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create peer: %w", err)
	}

	answer, err := p.Answer(ctx, offer)
	if err != nil {
		_ = p.Close()
		return nil, nil, fmt.Errorf("failed to answer offer: %w", err)
	}
	a.setActivePeer(p)

	done := make(chan struct{})
	go a.watchSession(runCtx, p, finished, done)
	return answer, done, nil
}

func (a *App) watchSession(ctx context.Context, p *peer.Peer, finished <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer a.releasePeer(p)

	readyCtx, cancel := context.WithTimeout(ctx, a.config.ConnectTimeout)
	err := p.WaitReady(readyCtx)
	cancel()
	if err != nil {
		a.sendAndLogError(ctx, "Sender never opened the data channel", err)
		return
	}

	select {
	case <-finished:
	case <-p.Done():
	case <-ctx.Done():
	}
	slog.Info("Session ended")
	a.send(ctx, receiver.SessionEndedMsg{})
}

func (a *App) save(ctx context.Context, artifact transfer.Artifact, meta transfer.Metadata) {
	path, err := fileInfo.SaveVerifiedArtifact(a.config.OutDir, meta.Name, artifact.Data, meta.CRC32)
	if err != nil {
		a.sendAndLogError(ctx, "Failed to save file", err)
		return
	}
	slog.Info("File saved", "name", meta.Name, "path", path, "size", meta.Size, "type", artifact.MimeType)
	a.send(ctx, receiver.FileReceivedMsg{Meta: meta, Path: path})
}

func (a *App) setActivePeer(p *peer.Peer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activePeer != nil {
		slog.Warn("An active connection already exists. Closing it before accepting a new one.")
		_ = a.activePeer.Close()
	}
	a.activePeer = p
}

// releasePeer closes p and forgets it if it is still the active peer.
func (a *App) releasePeer(p *peer.Peer) {
	a.mu.Lock()
	if a.activePeer == p {
		a.activePeer = nil
	}
	a.mu.Unlock()
	if err := p.Close(); err != nil {
		slog.Warn("Failed to close peer", "error", err)
	}
}

func (a *App) closeActivePeer() {
	a.mu.Lock()
	p := a.activePeer
	a.activePeer = nil
	a.mu.Unlock()
	if p != nil {
		slog.Info("Closing active connection")
		_ = p.Close()
	}
}

// send delivers msg to the UI unless ctx is done first.
func (a *App) send(ctx context.Context, msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	case <-ctx.Done():
	}
}

// tryNotify delivers msg only if the UI keeps up.
func (a *App) tryNotify(msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	default:
	}
}

// sendAndLogError is a helper function to both log an error and send it to the UI.
func (a *App) sendAndLogError(ctx context.Context, baseMessage string, err error) {
	slog.Error(baseMessage, "error", err)
	a.send(ctx, appevents.AppErrorMsg{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}
