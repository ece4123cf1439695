package ui

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/lanrtc/internal/app_events"
	"github.com/rescp17/lanrtc/internal/style"
)

// AppController defines the contract between the UI and the backend application logic.
// Both Sender and Receiver apps implement this interface.
type AppController interface {
	// Run starts the backend services and the event loop.
	Run(ctx context.Context) error

	// UIMessages returns a read-only channel for receiving messages from the backend to the UI.
	UIMessages() <-chan tea.Msg

	// AppEvents returns a write-only channel for the UI to send events to the backend.
	AppEvents() chan<- appevents.AppEvent
}

type mode int

const (
	None mode = iota
	Sender
	Receiver
)

// appStoppedMsg is delivered when the controller's Run returned.
type appStoppedMsg struct {
	err error
}

type globalKeyMap struct {
	Quit key.Binding
}

var globalKeys = globalKeyMap{
	Quit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

type model struct {
	mode          mode
	appController AppController
	ctx           context.Context
	cancel        context.CancelFunc
	help          help.Model
	sender        senderModel
	receiver      receiverModel
	err           error
}

func newModel(m mode, controller AppController) *model {
	ctx, cancel := context.WithCancel(context.Background())
	return &model{
		mode:          m,
		appController: controller,
		ctx:           ctx,
		cancel:        cancel,
		help:          help.New(),
	}
}

// Err returns the error the backend stopped with, if any.
func (m *model) Err() error {
	return m.err
}

func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.runApp(), m.listenForAppMessages()}
	switch m.mode {
	case Sender:
		cmds = append(cmds, m.initSender())
	case Receiver:
		cmds = append(cmds, m.initReceiver())
	}
	return tea.Batch(cmds...)
}

func (m *model) runApp() tea.Cmd {
	return func() tea.Msg {
		return appStoppedMsg{err: m.appController.Run(m.ctx)}
	}
}

// listenForAppMessages is a command that listens for messages from the app controller.
func (m *model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.appController.UIMessages():
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

// sendEvent hands event to the app controller without blocking the UI loop.
func (m *model) sendEvent(event appevents.AppEvent) tea.Cmd {
	return func() tea.Msg {
		select {
		case m.appController.AppEvents() <- event:
		case <-m.ctx.Done():
		}
		return nil
	}
}

func (m *model) quit() (tea.Model, tea.Cmd) {
	m.cancel()
	return m, tea.Quit
}

func (m *model) View() string {
	var s string
	switch m.mode {
	case Sender:
		s += m.senderView()
	case Receiver:
		s += m.receiverView()
	default:
		return ""
	}
	if m.err != nil {
		s += "\n" + style.ErrorStyle.Render(m.err.Error())
	}
	return s + "\n"
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, globalKeys.Quit) {
			return m.quit()
		}
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
	case appStoppedMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.err = msg.err
		}
		return m.quit()
	}

	switch m.mode {
	case Sender:
		return m.updateSender(msg)
	case Receiver:
		return m.updateReceiver(msg)
	}
	return m, nil
}
