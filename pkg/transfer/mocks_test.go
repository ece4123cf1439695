package transfer

import (
	"errors"
	"sync"
	"time"
)

// mockChannel records outbound messages and lets tests fire backpressure events by hand.
type mockChannel struct {
	mu         sync.Mutex
	sent       []Message
	threshold  uint64
	onMessage  func(Message)
	onLow      func()
	registered int           // number of non-nil OnBufferedAmountLow registrations
	failSendAt int           // 1-based index of the message whose send fails, 0 disables
	deliverTo  func(Message) // synchronous loopback to a receiver
}

var errMockSend = errors.New("mock send failure")

func newMockChannel() *mockChannel {
	return &mockChannel{}
}

func (m *mockChannel) record(msg Message) error {
	m.mu.Lock()
	if m.failSendAt > 0 && len(m.sent)+1 == m.failSendAt {
		m.mu.Unlock()
		return errMockSend
	}
	m.sent = append(m.sent, msg)
	deliver := m.deliverTo
	m.mu.Unlock()
	if deliver != nil {
		deliver(msg)
	}
	return nil
}

func (m *mockChannel) SendText(text string) error {
	return m.record(TextMessage(text))
}

func (m *mockChannel) Send(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	return m.record(BinaryMessage(cp))
}

func (m *mockChannel) OnMessage(f func(Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = f
}

func (m *mockChannel) SetBufferedAmountLowThreshold(threshold uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = threshold
}

func (m *mockChannel) OnBufferedAmountLow(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f != nil {
		m.registered++
	}
	m.onLow = f
}

// fireLow simulates the buffered amount dropping under the threshold.
// It reports whether a handler was registered.
func (m *mockChannel) fireLow() bool {
	m.mu.Lock()
	f := m.onLow
	m.mu.Unlock()
	if f == nil {
		return false
	}
	f()
	return true
}

// drain fires backpressure events until the handler is deregistered.
func (m *mockChannel) drain() int {
	fired := 0
	for m.fireLow() {
		fired++
	}
	return fired
}

func (m *mockChannel) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockChannel) handlerRegistered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onLow != nil
}

// fakeClock collects scheduled functions so tests decide when they run.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every timer that has not been stopped, as if its deadline passed.
func (c *fakeClock) fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

// fireAll runs every timer ever scheduled, including stopped ones, to
// simulate a Stop that lost the race against expiry.
func (c *fakeClock) fireAll() {
	c.mu.Lock()
	all := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range all {
		t.f()
	}
}

func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// receiveRecorder collects receiver callbacks.
type receiveRecorder struct {
	mu        sync.Mutex
	chunks    []int
	artifacts []Artifact
	metas     []Metadata
	errs      []error
}

func (r *receiveRecorder) callbacks() ReceiveCallbacks {
	return ReceiveCallbacks{
		OnChunk: func(received []byte, meta Metadata) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.chunks = append(r.chunks, len(received))
		},
		OnComplete: func(artifact Artifact, meta Metadata) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.artifacts = append(r.artifacts, artifact)
			r.metas = append(r.metas, meta)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}
