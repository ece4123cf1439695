package receiver

import (
	appevents "github.com/rescp17/lanrtc/internal/app_events"
	"github.com/rescp17/lanrtc/pkg/transfer"
)

// --- App to UI Messages ---

// ListeningMsg is sent once the receiver is announced and serving offers.
type ListeningMsg struct {
	appevents.UIMessage
	Name string
	Port int
}

// PeerConnectedMsg is sent when a sender's connection is established.
type PeerConnectedMsg struct {
	appevents.UIMessage
}

// ChunkReceivedMsg reports how much of the current file has arrived.
type ChunkReceivedMsg struct {
	appevents.UIMessage
	Meta     transfer.Metadata
	Received uint64
}

// FileReceivedMsg is sent after a verified file was written to disk.
type FileReceivedMsg struct {
	appevents.UIMessage
	Meta transfer.Metadata
	Path string
}

// SessionEndedMsg is sent when the sender went away and new offers are accepted again.
type SessionEndedMsg struct {
	appevents.UIMessage
}

// --- UI to App Events ---

// DropSessionMsg closes the connection to the current sender.
type DropSessionMsg struct {
	appevents.Event
}

var _ appevents.AppEvent = DropSessionMsg{}
