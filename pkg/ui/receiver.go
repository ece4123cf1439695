package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/lanrtc/internal/app_events"
	receiverEvent "github.com/rescp17/lanrtc/internal/app_events/receiver"
	"github.com/rescp17/lanrtc/internal/style"
	"github.com/rescp17/lanrtc/internal/util"
	"github.com/rescp17/lanrtc/pkg/transfer"
)

// receiverState defines the different states of the receiver UI
type receiverState int

const (
	startingReceiver receiverState = iota
	awaitingConnection
	peerConnected
	receivingFile
)

// maxHistory is the number of received files listed.
const maxHistory = 5

type receiverKeyMap struct {
	Drop key.Binding
}

func (k receiverKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Drop, globalKeys.Quit}
}

func (k receiverKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

type receivedFile struct {
	meta transfer.Metadata
	path string
}

type receiverModel struct {
	state     receiverState
	keys      receiverKeyMap
	spinner   spinner.Model
	progress  progress.Model
	outDir    string
	name      string
	port      int
	current   transfer.Metadata
	received  uint64
	history   []receivedFile
	lastError error
}

func initReceiverModel(outDir string) receiverModel {
	m := receiverModel{
		state: startingReceiver,
		keys: receiverKeyMap{
			Drop: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "drop sender")),
		},
		spinner:  style.NewSpinner(),
		progress: style.NewProgress(),
		outDir:   outDir,
	}
	m.syncKeys()
	return m
}

// NewReceiverModel returns the TUI for a receiver saving files into outDir.
func NewReceiverModel(controller AppController, outDir string) tea.Model {
	m := newModel(Receiver, controller)
	m.receiver = initReceiverModel(outDir)
	return m
}

func (m *model) initReceiver() tea.Cmd {
	return m.receiver.spinner.Tick
}

func (m *receiverModel) syncKeys() {
	m.keys.Drop.SetEnabled(m.state == peerConnected || m.state == receivingFile)
}

func (m *model) updateReceiver(msg tea.Msg) (tea.Model, tea.Cmd) {
	if cmd, processed := m.handleReceiverAppEvent(msg); processed {
		return m, cmd
	}

	var cmds []tea.Cmd
	if keyMsg, ok := msg.(tea.KeyMsg); ok && key.Matches(keyMsg, m.receiver.keys.Drop) {
		cmds = append(cmds, m.sendEvent(receiverEvent.DropSessionMsg{}))
	}

	var spinCmd tea.Cmd
	m.receiver.spinner, spinCmd = m.receiver.spinner.Update(msg)
	cmds = append(cmds, spinCmd)
	return m, tea.Batch(cmds...)
}

func (m *model) handleReceiverAppEvent(msg tea.Msg) (tea.Cmd, bool) {
	r := &m.receiver
	switch msg := msg.(type) {
	case receiverEvent.ListeningMsg:
		r.state = awaitingConnection
		r.name = msg.Name
		r.port = msg.Port
	case receiverEvent.PeerConnectedMsg:
		r.state = peerConnected
		r.lastError = nil
	case receiverEvent.ChunkReceivedMsg:
		r.state = receivingFile
		r.current = msg.Meta
		r.received = msg.Received
	case receiverEvent.FileReceivedMsg:
		r.state = peerConnected
		r.history = append(r.history, receivedFile{meta: msg.Meta, path: msg.Path})
		if len(r.history) > maxHistory {
			r.history = r.history[len(r.history)-maxHistory:]
		}
	case receiverEvent.SessionEndedMsg:
		r.state = awaitingConnection
		r.received = 0
	case appevents.AppErrorMsg:
		r.lastError = msg.Err
	default:
		return nil, false
	}
	r.syncKeys()
	return m.listenForAppMessages(), true
}

func (m *model) receiverView() string {
	r := m.receiver
	var b strings.Builder

	switch r.state {
	case startingReceiver:
		fmt.Fprintf(&b, "\n%s Starting receiver...\n", r.spinner.View())
	case awaitingConnection:
		fmt.Fprintf(&b, "\n%s Waiting for a sender as %s on port %d\n", r.spinner.View(),
			style.HighlightFontStyle.Render(r.name), r.port)
	case peerConnected:
		fmt.Fprintf(&b, "\n%s Sender connected, waiting for a file...\n", r.spinner.View())
	case receivingFile:
		fmt.Fprintf(&b, "\nReceiving %s\n", style.HighlightFontStyle.Render(r.current.Name))
		percent := 1.0
		if r.current.Size > 0 {
			percent = float64(r.received) / float64(r.current.Size)
		}
		b.WriteString(r.progress.ViewAs(percent) + "\n")
		b.WriteString(style.LabelStyle.Render(fmt.Sprintf("%s / %s",
			util.FormatSize(int64(r.received)), util.FormatSize(int64(r.current.Size)))) + "\n")
	default:
		return "Internal error: unknown receiver state"
	}

	if len(r.history) > 0 {
		b.WriteString("\n" + style.TitleStyle.Render("Received") + "\n")
		for _, f := range r.history {
			fmt.Fprintf(&b, "  %s %10s  %s\n", util.PadRight(f.meta.Name, 32),
				util.FormatSize(int64(f.meta.Size)), style.LabelStyle.Render(f.path))
		}
	}
	if r.lastError != nil {
		b.WriteString("\n" + style.ErrorStyle.Render(r.lastError.Error()) + "\n")
	}
	fmt.Fprintf(&b, "\n%s\n%s", style.LabelStyle.Render("Saving to "+r.outDir), m.help.View(r.keys))
	return b.String()
}
