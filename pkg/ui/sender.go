package ui

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/lanrtc/internal/app_events"
	senderEvent "github.com/rescp17/lanrtc/internal/app_events/sender"
	"github.com/rescp17/lanrtc/internal/style"
	"github.com/rescp17/lanrtc/internal/util"
	"github.com/rescp17/lanrtc/pkg/discovery"
	"github.com/rescp17/lanrtc/pkg/transfer"
)

// senderState defines the different states of the sender UI.
type senderState int

const (
	findingReceivers senderState = iota
	selectingReceiver
	connecting
	sendingFile
	transferComplete
	transferFailed
	transferCancelled
)

type senderKeyMap struct {
	Select key.Binding
	Cancel key.Binding
	Again  key.Binding
}

func (k senderKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Select, k.Cancel, k.Again, globalKeys.Quit}
}

func (k senderKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultSenderKeys() senderKeyMap {
	return senderKeyMap{
		Select: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel transfer")),
		Again:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "continue")),
	}
}

type senderModel struct {
	state           senderState
	keys            senderKeyMap
	path            string
	fixedReceiver   *discovery.ServiceInfo
	spinner         spinner.Model
	table           table.Model
	progress        progress.Model
	services        []discovery.ServiceInfo
	selectedService discovery.ServiceInfo
	status          string
	meta            transfer.Metadata
	lastProgress    transfer.Progress
	rate            string
	lastError       error
}

var columns = []table.Column{
	{Title: "Index", Width: 6},
	{Title: "Name", Width: 28},
	{Title: "Address", Width: 18},
	{Title: "Port", Width: 6},
}

func initSenderModel(path string, fixedReceiver *discovery.ServiceInfo) senderModel {
	t := table.New(
		table.WithColumns(columns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(0),
	)
	t.SetStyles(style.NewTableStyles())

	state := findingReceivers
	if fixedReceiver != nil {
		state = connecting
	}
	m := senderModel{
		state:         state,
		keys:          defaultSenderKeys(),
		path:          path,
		fixedReceiver: fixedReceiver,
		spinner:       style.NewSpinner(),
		table:         t,
		progress:      style.NewProgress(),
	}
	m.syncKeys()
	return m
}

// NewSenderModel returns the TUI for sending the file at path. With a fixed
// receiver the transfer starts immediately; otherwise the user picks one of
// the discovered receivers.
func NewSenderModel(controller AppController, path string, fixedReceiver *discovery.ServiceInfo) tea.Model {
	m := newModel(Sender, controller)
	m.sender = initSenderModel(path, fixedReceiver)
	return m
}

func (m *model) initSender() tea.Cmd {
	cmds := []tea.Cmd{m.sender.spinner.Tick}
	if m.sender.fixedReceiver != nil {
		cmds = append(cmds, m.startSend(*m.sender.fixedReceiver))
	}
	return tea.Batch(cmds...)
}

func (m *model) startSend(receiver discovery.ServiceInfo) tea.Cmd {
	m.sender.selectedService = receiver
	m.sender.state = connecting
	m.sender.status = "Connecting..."
	return m.sendEvent(senderEvent.SendFileMsg{Receiver: receiver, Path: m.sender.path})
}

func (m *model) updateReceiverTable(services []discovery.ServiceInfo) {
	m.sender.services = services
	rows := make([]table.Row, 0, len(services))
	for index, svc := range services {
		rows = append(rows, table.Row{
			strconv.Itoa(index), svc.Name, svc.Addr.String(), strconv.Itoa(svc.Port),
		})
	}
	m.sender.table.SetRows(rows)
	m.sender.table.SetHeight(len(rows) + 1)
}

func (m *model) updateSender(msg tea.Msg) (tea.Model, tea.Cmd) {
	if cmd, processed := m.handleSenderAppEvent(msg); processed {
		return m, cmd
	}

	var cmds []tea.Cmd
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		cmds = append(cmds, m.handleSenderKey(keyMsg))
	}

	var spinCmd tea.Cmd
	m.sender.spinner, spinCmd = m.sender.spinner.Update(msg)
	cmds = append(cmds, spinCmd)
	return m, tea.Batch(cmds...)
}

func (m *model) handleSenderAppEvent(msg tea.Msg) (tea.Cmd, bool) {
	switch msg := msg.(type) {
	case senderEvent.FoundServicesMsg:
		slog.Debug("Discovery update", "service_count", len(msg.Services))
		if len(msg.Services) > 0 && m.sender.state == findingReceivers {
			m.sender.state = selectingReceiver
		}
		if len(msg.Services) == 0 && m.sender.state == selectingReceiver {
			m.sender.state = findingReceivers
		}
		m.updateReceiverTable(msg.Services)
	case appevents.StatusUpdateMsg:
		m.sender.status = msg.Message
	case senderEvent.ReceiverAcceptedMsg:
		m.sender.status = "Receiver accepted, opening data channel..."
	case senderEvent.TransferStartedMsg:
		m.sender.state = sendingFile
		m.sender.meta = msg.Meta
		m.sender.lastProgress = transfer.Progress{TotalBytes: msg.Meta.Size}
	case senderEvent.ProgressUpdateMsg:
		m.sender.lastProgress = msg.Progress
		m.sender.rate = msg.Rate
	case senderEvent.TransferCompleteMsg:
		m.sender.state = transferComplete
		m.sender.meta = msg.Meta
	case senderEvent.TransferCancelledMsg:
		m.sender.state = transferCancelled
	case appevents.AppErrorMsg:
		m.sender.lastError = msg.Err
		if m.sender.state == connecting || m.sender.state == sendingFile {
			m.sender.state = transferFailed
		}
	default:
		return nil, false
	}
	m.sender.syncKeys()
	return m.listenForAppMessages(), true
}

func (m *model) handleSenderKey(msg tea.KeyMsg) tea.Cmd {
	switch m.sender.state {
	case selectingReceiver:
		if key.Matches(msg, m.sender.keys.Select) {
			index := m.sender.table.Cursor()
			if index < 0 || index >= len(m.sender.services) {
				slog.Error("Cursor out of sync", "cursor", index, "services", len(m.sender.services))
				return nil
			}
			cmd := m.startSend(m.sender.services[index])
			m.sender.syncKeys()
			return cmd
		}
		var cmd tea.Cmd
		m.sender.table, cmd = m.sender.table.Update(msg)
		return cmd
	case connecting, sendingFile:
		if key.Matches(msg, m.sender.keys.Cancel) {
			m.sender.status = "Cancelling..."
			return m.sendEvent(senderEvent.CancelTransferMsg{})
		}
	case transferComplete, transferFailed, transferCancelled:
		if key.Matches(msg, m.sender.keys.Again) {
			if m.sender.fixedReceiver != nil {
				_, cmd := m.quit()
				return cmd
			}
			m.sender.reset()
			m.updateReceiverTable(m.sender.services)
			if len(m.sender.services) > 0 {
				m.sender.state = selectingReceiver
			}
			m.sender.syncKeys()
			return m.sender.spinner.Tick
		}
	}
	return nil
}

// syncKeys enables the bindings that apply to the current state.
func (m *senderModel) syncKeys() {
	m.keys.Select.SetEnabled(m.state == selectingReceiver)
	m.keys.Cancel.SetEnabled(m.state == connecting || m.state == sendingFile)
	m.keys.Again.SetEnabled(m.state == transferComplete || m.state == transferFailed || m.state == transferCancelled)
}

func (m *model) senderView() string {
	name := filepath.Base(m.sender.path)
	target := style.HighlightFontStyle.Render(m.sender.selectedService.Name)

	var s string
	switch m.sender.state {
	case findingReceivers:
		s = fmt.Sprintf("\n%s Finding receivers for %s...\n", m.sender.spinner.View(), style.HighlightFontStyle.Render(name))
	case selectingReceiver:
		s = fmt.Sprintf("\n%s\n", style.TitleStyle.Render(fmt.Sprintf("Found %d receiver(s)", len(m.sender.services))))
		s += style.BaseStyle.Render(m.sender.table.View()) + "\n"
	case connecting:
		s = fmt.Sprintf("\n%s %s %s\n", m.sender.spinner.View(), m.sender.status, target)
	case sendingFile:
		p := m.sender.lastProgress
		s = fmt.Sprintf("\nSending to %s\n\n", target)
		s += fmt.Sprintf("%s %s\n", util.PadRight(m.sender.meta.Name, 32), style.LabelStyle.Render(m.sender.meta.MimeType))
		s += m.sender.progress.ViewAs(p.Percent/100) + "\n"
		s += style.LabelStyle.Render(fmt.Sprintf("%s / %s  %s",
			util.FormatSize(int64(p.TransmittedBytes)), util.FormatSize(int64(p.TotalBytes)), m.sender.rate)) + "\n"
	case transferComplete:
		s = "\n" + style.SuccessStyle.Render(fmt.Sprintf("Sent %s (%s) to %s", m.sender.meta.Name,
			util.FormatSize(int64(m.sender.meta.Size)), m.sender.selectedService.Name)) + "\n"
	case transferFailed:
		s = "\n" + style.ErrorStyle.Render(fmt.Sprintf("Transfer failed: %v", m.sender.lastError)) + "\n"
	case transferCancelled:
		s = "\nTransfer cancelled.\n"
	default:
		return "Internal error: unknown sender state"
	}
	return s + "\n" + m.help.View(m.sender.keys)
}

func (m *senderModel) reset() {
	services := m.services
	*m = initSenderModel(m.path, m.fixedReceiver)
	m.services = services
}
