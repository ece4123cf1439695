package sender

import (
	appevents "github.com/rescp17/lanrtc/internal/app_events"
	"github.com/rescp17/lanrtc/pkg/discovery"
	"github.com/rescp17/lanrtc/pkg/transfer"
)

// --- App Events (from TUI to App) ---

// SendFileMsg is sent when the user picks the receiver for the file.
type SendFileMsg struct {
	appevents.Event
	Receiver discovery.ServiceInfo
	Path     string
}

// CancelTransferMsg aborts the transfer in flight.
type CancelTransferMsg struct {
	appevents.Event
}

var (
	_ appevents.AppEvent = SendFileMsg{}
	_ appevents.AppEvent = CancelTransferMsg{}
)

// --- UI Messages (from App to TUI) ---

// FoundServicesMsg lists the receivers currently visible on the network.
type FoundServicesMsg struct {
	appevents.UIMessage
	Services []discovery.ServiceInfo
}

// ReceiverAcceptedMsg is sent once the receiver answered the offer.
type ReceiverAcceptedMsg struct {
	appevents.UIMessage
}

// TransferStartedMsg is sent after the metadata went out.
type TransferStartedMsg struct {
	appevents.UIMessage
	Meta transfer.Metadata
}

// ProgressUpdateMsg is sent after every paced chunk.
type ProgressUpdateMsg struct {
	appevents.UIMessage
	Progress transfer.Progress
	Rate     string
}

// TransferCompleteMsg is sent once the sentinel was handed to the channel.
type TransferCompleteMsg struct {
	appevents.UIMessage
	Meta transfer.Metadata
}

// TransferCancelledMsg is sent when the user cancelled the transfer.
type TransferCancelledMsg struct {
	appevents.UIMessage
}
