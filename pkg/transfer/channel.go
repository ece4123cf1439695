package transfer

// Channel is the ordered, reliable, message-oriented duplex channel the
// protocol runs on. Messages must be delivered in the order they were sent,
// exactly once: chunks carry no sequence numbers.
type Channel interface {
	// SendText enqueues a UTF-8 text message.
	SendText(text string) error
	// Send enqueues a binary message.
	Send(data []byte) error
	// OnMessage registers the handler for inbound messages.
	OnMessage(f func(Message))
	// SetBufferedAmountLowThreshold sets the level under which OnBufferedAmountLow fires.
	SetBufferedAmountLowThreshold(threshold uint64)
	// OnBufferedAmountLow registers the backpressure-low handler. Passing nil deregisters it.
	OnBufferedAmountLow(f func())
}
