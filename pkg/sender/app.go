package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/lanrtc/api"
	appevents "github.com/rescp17/lanrtc/internal/app_events"
	"github.com/rescp17/lanrtc/internal/app_events/sender"
	"github.com/rescp17/lanrtc/internal/util"
	"github.com/rescp17/lanrtc/pkg/concurrency"
	"github.com/rescp17/lanrtc/pkg/discovery"
	"github.com/rescp17/lanrtc/pkg/peer"
	"github.com/rescp17/lanrtc/pkg/transfer"
	lanwebrtc "github.com/rescp17/lanrtc/pkg/webrtc"
)

const (
	DefaultTransferTimeout = 10 * time.Minute
	// DefaultCloseTimeout bounds the wait for the receiver to close the
	// session after the last chunk.
	DefaultCloseTimeout = 10 * time.Second
)

// Config configures the sender application.
type Config struct {
	Peer            peer.Config
	TransferTimeout time.Duration
	CloseTimeout    time.Duration
}

// App is the main application logic controller for the sender.
type App struct {
	guard      *concurrency.ConcurrencyGuard
	discoverer discovery.Adapter
	webrtcAPI  *lanwebrtc.WebRTCAPI
	config     Config
	uiMessages chan tea.Msg            // App -> TUI
	appEvents  chan appevents.AppEvent // TUI -> App
	transferWG sync.WaitGroup

	mu             sync.Mutex
	cancelTransfer context.CancelFunc
}

// NewApp creates a new sender application instance. A nil discoverer
// disables receiver discovery; receivers are then named explicitly.
func NewApp(cfg Config, discoverer discovery.Adapter, webrtcAPI *lanwebrtc.WebRTCAPI) *App {
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	return &App{
		guard:      concurrency.NewConcurrencyGuard(),
		discoverer: discoverer,
		webrtcAPI:  webrtcAPI,
		config:     cfg,
		uiMessages: make(chan tea.Msg, 64),
		appEvents:  make(chan appevents.AppEvent),
	}
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// Run starts the application's main event loop.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.discoverer != nil {
		g.Go(func() error {
			return a.runDiscovery(ctx)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				// Active transfers see the same context and wind down
				a.transferWG.Wait()
				return nil
			case event := <-a.appEvents:
				switch e := event.(type) {
				case sender.SendFileMsg:
					a.StartSendProcess(ctx, e.Receiver, e.Path)
				case sender.CancelTransferMsg:
					a.cancelActive()
				default:
					slog.Warn("Received unhandled app event", "event", event)
				}
			}
		}
	})
	return g.Wait()
}

// runDiscovery forwards every change in the set of visible receivers to the UI.
func (a *App) runDiscovery(ctx context.Context) error {
	lookup := discovery.LookupName(discovery.DefaultServiceType, discovery.DefaultDomain)
	for result := range a.discoverer.Discover(ctx, lookup) {
		if result.Error != nil {
			a.sendAndLogError(ctx, "Discovery failed", result.Error)
			continue
		}
		services := result.Services
		sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
		a.send(ctx, sender.FoundServicesMsg{Services: services})
	}
	return nil
}

// StartSendProcess sends the file at path to receiver in the background and
// reports the outcome to the UI.
func (a *App) StartSendProcess(ctx context.Context, receiver discovery.ServiceInfo, path string) {
	taskCtx, cancel := context.WithTimeout(ctx, a.config.TransferTimeout)

	a.transferWG.Add(1)
	go func() {
		defer a.transferWG.Done()
		defer cancel()

		var meta transfer.Metadata
		err := a.guard.Execute(func() error {
			a.setCancel(cancel)
			defer a.setCancel(nil)

			var err error
			meta, err = a.SendFile(taskCtx, receiver, path)
			return err
		})

		switch {
		case err == nil:
			a.send(ctx, sender.TransferCompleteMsg{Meta: meta})
		case errors.Is(err, concurrency.ErrBusy):
			a.sendAndLogError(ctx, "A transfer is already in progress", err)
		case errors.Is(err, context.Canceled) && ctx.Err() == nil:
			slog.Info("Transfer cancelled", "path", path)
			a.send(ctx, sender.TransferCancelledMsg{})
		default:
			a.sendAndLogError(ctx, "Transfer failed", err)
		}
	}()
}

// SendFile connects to receiver, sends the file at path and waits until the
// receiver closed the session or the close timeout passed.
func (a *App) SendFile(ctx context.Context, receiver discovery.ServiceInfo, path string) (transfer.Metadata, error) {
	client := api.NewClient(receiver.ID)
	client.SetReceiverURL(receiver.Address())

	p, err := peer.New(a.webrtcAPI, a.config.Peer, peer.Callbacks{
		AnswerAccepted: func() {
			a.send(ctx, sender.ReceiverAcceptedMsg{})
		},
		PeerConnected: func() {
			a.send(ctx, appevents.StatusUpdateMsg{Message: "Connected to " + receiver.Name})
		},
	})
	if err != nil {
		return transfer.Metadata{}, fmt.Errorf("failed to create peer: %w", err)
	}
	defer p.Close()

	a.send(ctx, appevents.StatusUpdateMsg{Message: "Establishing connection..."})
	if err := p.Establish(ctx, api.NewAPISignaler(client)); err != nil {
		return transfer.Metadata{}, fmt.Errorf("could not establish connection with %s: %w", receiver.Name, err)
	}

	result := make(chan error, 1)
	start := time.Now()
	meta, err := p.SendFile(ctx, path, transfer.SendCallbacks{
		OnProgress: func(progress transfer.Progress) {
			a.tryNotify(sender.ProgressUpdateMsg{
				Progress: progress,
				Rate:     util.FormatRate(progress.TransmittedBytes, time.Since(start)),
			})
		},
		OnComplete: func(transfer.Metadata) { result <- nil },
		OnError:    func(err error) { result <- err },
	})
	if err != nil {
		return meta, fmt.Errorf("failed to send %s: %w", path, err)
	}
	slog.Info("Transfer started", "name", meta.Name, "size", meta.Size, "crc32", meta.CRC32)
	a.send(ctx, sender.TransferStartedMsg{Meta: meta})

	select {
	case err := <-result:
		if err != nil {
			return meta, fmt.Errorf("transfer of %s failed: %w", meta.Name, err)
		}
	case <-ctx.Done():
		p.Cancel()
		return meta, ctx.Err()
	}

	// The receiver closes the session once it verified the file
	select {
	case <-p.Done():
	case <-time.After(a.config.CloseTimeout):
		slog.Warn("Receiver did not close the session", "name", meta.Name)
	case <-ctx.Done():
		return meta, ctx.Err()
	}
	slog.Info("Transfer finished", "name", meta.Name, "elapsed", time.Since(start))
	return meta, nil
}

func (a *App) setCancel(cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTransfer = cancel
}

func (a *App) cancelActive() {
	a.mu.Lock()
	cancel := a.cancelTransfer
	a.mu.Unlock()
	if cancel != nil {
		cancel()
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
