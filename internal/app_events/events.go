package appevents

// AppEvent is a marker interface for events sent from the TUI to the App's logic controller.
// Only types that embed Event satisfy it.
type AppEvent interface {
	isAppEvent()
}

// Event can be embedded in other event types to satisfy the AppEvent interface.
type Event struct{}

func (Event) isAppEvent() {}

// AppUIMessage is a marker interface for messages sent from the App's logic controller to the TUI.
type AppUIMessage interface {
	isUIMessage()
}

// UIMessage can be embedded in other types to implement the AppUIMessage interface.
type UIMessage struct{}

func (UIMessage) isUIMessage() {}

// AppErrorMsg reports a failure to the TUI.
type AppErrorMsg struct {
	UIMessage
	Err error
}

// StatusUpdateMsg carries a one-line status for the TUI.
type StatusUpdateMsg struct {
	UIMessage
	Message string
}

var (
	_ AppUIMessage = AppErrorMsg{}
	_ AppUIMessage = StatusUpdateMsg{}
)
